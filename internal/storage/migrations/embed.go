// Package migrations carries the SQL schema for both stores embedded into
// the binary, so the CLIs can provision a fresh database without shipping
// files alongside them.
package migrations

import "embed"

// PostgresFS holds the trade-store schema (trades table and indexes).
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS holds the analytics schema (candles and equity_curve tables).
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
