package database

import (
	"fmt"
	"strings"
)

// ConstructDatabaseURL joins a base PostgreSQL URL with a database name.
// An empty name returns the base URL untouched. sslmode=disable is appended
// unless the URL already carries an sslmode parameter.
func ConstructDatabaseURL(baseURL, databaseName string) string {
	databaseName = strings.TrimSpace(databaseName)
	if databaseName == "" {
		return baseURL
	}

	baseURL = strings.TrimRight(baseURL, "/")

	var databaseURL string
	if base, query, found := strings.Cut(baseURL, "?"); found {
		databaseURL = fmt.Sprintf("%s/%s?%s", strings.TrimRight(base, "/"), databaseName, query)
	} else {
		databaseURL = fmt.Sprintf("%s/%s", baseURL, databaseName)
	}

	if !strings.Contains(databaseURL, "sslmode=") {
		separator := "&"
		if !strings.Contains(databaseURL, "?") {
			separator = "?"
		}
		databaseURL = fmt.Sprintf("%s%ssslmode=disable", databaseURL, separator)
	}

	return databaseURL
}
