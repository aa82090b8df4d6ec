// Package migrations embeds the MySQL schema of the transaction ledger.
package migrations

import "embed"

// Files holds the versioned *.sql files, applied in file-name order.
//
//go:embed *.sql
var Files embed.FS
