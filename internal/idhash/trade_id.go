package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"fx-session-lab/internal/domain"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(instrument|strategy_id|session|entry_date)
// Returns hex-encoded hash (64 characters).
//
// The inputs are the trade's natural key: one strategy opens at most one
// position per session per day, so replays and restarts always derive the
// same id for the same trade.
func ComputeTradeID(
	instrument string,
	strategyID string,
	sess domain.Session,
	entryDate time.Time,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s",
		instrument,
		strategyID,
		string(sess),
		entryDate.UTC().Format("2006-01-02"),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
