package kvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes, one per record family
var (
	borrowerPrefix = []byte("b/")
	delegatePrefix = []byte("d/")
	legacyPrefix   = []byte("l/")
)

// separator splits the two identities of a pair key
const separator = 0x00

func borrowerKey(addr string) []byte {
	return prefixed(borrowerPrefix, addr)
}

func delegateKey(borrower, delegate string) []byte {
	return pairKey(delegatePrefix, borrower, delegate)
}

func legacyKey(borrower, delegate string) []byte {
	return pairKey(legacyPrefix, borrower, delegate)
}

func prefixed(prefix []byte, id string) []byte {
	key := make([]byte, 0, len(prefix)+len(id))
	key = append(key, prefix...)
	return append(key, id...)
}

func pairKey(prefix []byte, first, second string) []byte {
	key := make([]byte, 0, len(prefix)+len(first)+1+len(second))
	key = append(key, prefix...)
	key = append(key, first...)
	key = append(key, separator)
	return append(key, second...)
}

// splitPairKey returns the two identities of a pair key
func splitPairKey(prefix, key []byte) (string, string, error) {
	rest := key[len(prefix):]
	i := bytes.IndexByte(rest, separator)
	if i < 0 {
		return "", "", fmt.Errorf("malformed pair key %q", key)
	}
	return string(rest[:i]), string(rest[i+1:]), nil
}

// afterRange covers every key of the family strictly greater than prefix+id
func afterRange(prefix []byte, id string) *util.Range {
	r := util.BytesPrefix(prefix)
	if id != "" {
		start := prefixed(prefix, id)
		r.Start = append(start, separator)
	}
	return r
}

// pairRange covers every pair key whose first identity is first
func pairRange(prefix []byte, first string) *util.Range {
	start := prefixed(prefix, first)
	return util.BytesPrefix(append(start, separator))
}

func encodeShares(shares int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(shares))
	return buf
}

func decodeShares(value []byte) (int64, error) {
	if len(value) != 8 {
		return 0, fmt.Errorf("share value has %d bytes, expected 8", len(value))
	}
	shares := int64(binary.BigEndian.Uint64(value))
	if shares < 0 {
		return 0, fmt.Errorf("stored share value %d is negative", shares)
	}
	return shares, nil
}
