//go:build cgo

package ledger

// Registers the "libsql" driver for remote Turso ledgers
// (libsql://<db>.turso.io?authToken=...).
import _ "github.com/tursodatabase/go-libsql"
