// Package db ships the SQL migrations of the audit journal inside the binary.
package db

import (
	"embed"
	"io/fs"
)

//go:embed pg/*.sql
var files embed.FS

// Postgres returns the Postgres migrations, rooted at their directory.
func Postgres() fs.FS {
	sub, err := fs.Sub(files, "pg")
	if err != nil {
		panic(err)
	}
	return sub
}
