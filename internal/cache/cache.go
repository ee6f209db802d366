package cache

import (
	"context"
	"strconv"
	"time"
)

// Cache is a best-effort JSON store. A decode failure counts as a miss.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// RiskRulesKey holds the active keyword rules, refreshed from Postgres on expiry.
const RiskRulesKey = "risk_rules:active"

// DefenseLevelKey holds a user's last defense level so a reconnecting client
// resumes at it.
func DefenseLevelKey(userID int64) string {
	return "defense:level:" + strconv.FormatInt(userID, 10)
}
