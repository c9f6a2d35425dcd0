// Package migrations embeds the goose SQL migrations for the local cache.
package migrations

import "embed"

// FS holds the numbered *.sql migrations applied by goose on store open.
//
//go:embed *.sql
var FS embed.FS
