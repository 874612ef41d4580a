// Package repository holds the gorm-backed persistence for users, documents,
// chunks and chats. Lookups that find nothing return (nil, nil).
package repository

import (
	"errors"
	"strings"
)

// ErrNotFound is returned from multi-statement operations that need to abort
// a transaction when a row is missing or not owned by the caller.
var ErrNotFound = errors.New("record not found")

const insertBatchSize = 100

type Page struct {
	Offset int
	Limit  int
}

func likePattern(search string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(search)) + "%"
}
