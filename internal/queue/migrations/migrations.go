// Package migrations embeds the upload queue schema for goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
