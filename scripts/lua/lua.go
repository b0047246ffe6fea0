// Package lua embeds the Redis scripts backing the claimed-set.
package lua

import _ "embed"

// ReserveClaim inserts a pending claim record unless one exists. It replies 1 when the
// record was inserted, or the existing record's HGETALL reply otherwise.
//
//go:embed reserve_claim.lua
var ReserveClaim string

// CompleteClaim marks a record claimed once and replies with its HGETALL.
//
//go:embed complete_claim.lua
var CompleteClaim string

// ReleaseClaim deletes a record unless it is claimed.
//
//go:embed release_claim.lua
var ReleaseClaim string

// MarkUnknown moves a pending record to unknown. It replies -1 for a missing record.
//
//go:embed mark_unknown.lua
var MarkUnknown string
