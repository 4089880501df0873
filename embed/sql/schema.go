// Package sql embeds the database schema.
package sql

import _ "embed"

// Schema is the full database schema, applied idempotently on startup.
//
//go:embed schema.sql
var Schema string
