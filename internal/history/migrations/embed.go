// Package migrations applies the embedded ClickHouse schema for the
// balance snapshot history.
package migrations

import "embed"

// ClickhouseFS embeds all ClickHouse migration files.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
