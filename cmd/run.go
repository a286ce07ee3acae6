package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"borrowledger/config"

	log "github.com/sirupsen/logrus"
)

// Usage describes the ledger commands
const Usage = `usage:
  borrowledger migrate up|down [n]|status
  borrowledger migrate-legacy
  borrowledger set-limit <addr> <limit>
  borrowledger show <addr>
  borrowledger list [limit] [start-after]`

// Run executes one ledger command and writes its JSON result to out
func Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command\n%s", Usage)
	}

	cfg := config.Get()
	SetupLogging(cfg)

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.dispatch(ctx, args)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// showResult is a borrower with its delegate breakdown
type showResult struct {
	Addr      string           `json:"addr"`
	Limit     int64            `json:"limit"`
	Shares    int64            `json:"shares"`
	Delegates map[string]int64 `json:"delegates"`
}

func (a *App) dispatch(ctx context.Context, args []string) (any, error) {
	command, rest := args[0], args[1:]

	switch command {
	case "migrate-legacy":
		result, err := a.Ledger.Migrate(ctx)
		if err != nil {
			return nil, fmt.Errorf("legacy migration failed: %w", err)
		}
		return result, nil

	case "set-limit":
		if len(rest) != 2 {
			return nil, fmt.Errorf("usage: borrowledger set-limit <addr> <limit>")
		}
		limit, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid limit %q: %w", rest[1], err)
		}
		return a.Ledger.Set(ctx, rest[0], limit)

	case "show":
		if len(rest) != 1 {
			return nil, fmt.Errorf("usage: borrowledger show <addr>")
		}
		borrower, err := a.Ledger.Load(ctx, rest[0])
		if err != nil {
			return nil, err
		}
		delegates, err := a.Ledger.ListDelegates(ctx, rest[0])
		if err != nil {
			return nil, err
		}

		result := showResult{
			Addr:      borrower.Addr,
			Limit:     borrower.Limit,
			Shares:    borrower.Shares,
			Delegates: make(map[string]int64, len(delegates)),
		}
		for _, d := range delegates {
			result.Delegates[d.Delegate] = d.Shares
		}
		return result, nil

	case "list":
		limit := 0
		startAfter := ""
		if len(rest) > 0 {
			parsed, err := strconv.Atoi(rest[0])
			if err != nil {
				return nil, fmt.Errorf("invalid limit %q: %w", rest[0], err)
			}
			limit = parsed
		}
		if len(rest) > 1 {
			startAfter = rest[1]
		}
		return a.Ledger.ListBorrowers(ctx, limit, startAfter)

	default:
		log.WithField("command", command).Debug("Unknown command")
		return nil, fmt.Errorf("unknown command %q\n%s", command, Usage)
	}
}
