// Package retention computes message expiry from the participants' retention
// preferences and enforces it with per-message timers plus a sweep reaper.
package retention

import (
	"time"

	"github.com/rs/zerolog"

	"messaging-core/internal/models"
)

// Policies ordered from strictest (shortest) to most permissive.
var policyRank = map[string]int{
	models.RetentionAfterRead:   0,
	models.RetentionOneDay:      1,
	models.RetentionOneWeek:     2,
	models.RetentionOneMonth:    3,
	models.RetentionThreeMonths: 4,
	models.RetentionSixMonths:   5,
	models.RetentionOneYear:     6,
	models.RetentionForever:     7,
}

// rank treats unrecognized values as most permissive so a bad enum write
// cannot silently shorten retention for everyone; the warning makes it
// visible instead.
func rank(policy string, log zerolog.Logger) int {
	r, ok := policyRank[policy]
	if !ok {
		log.Warn().Str("policy", policy).Msg("unrecognized retention policy, ranking as forever")
		return policyRank[models.RetentionForever]
	}
	return r
}

// Strictest returns the shorter of the two retention policies.
func Strictest(a, b string, log zerolog.Logger) string {
	if rank(a, log) <= rank(b, log) {
		return a
	}
	return b
}

// StrictestOf folds Strictest over all policies; with no input it returns
// forever.
func StrictestOf(log zerolog.Logger, policies ...string) string {
	effective := models.RetentionForever
	for _, p := range policies {
		effective = Strictest(effective, p, log)
	}
	return effective
}

// ComputeExpiry returns the absolute expiry for a message created at now.
// Forever has no expiry; after_read has no precomputed expiry either, the
// message is deleted reactively when it is marked read.
func ComputeExpiry(policy string, now time.Time) *time.Time {
	var at time.Time
	switch policy {
	case models.RetentionOneDay:
		at = now.AddDate(0, 0, 1)
	case models.RetentionOneWeek:
		at = now.AddDate(0, 0, 7)
	case models.RetentionOneMonth:
		at = now.AddDate(0, 1, 0)
	case models.RetentionThreeMonths:
		at = now.AddDate(0, 3, 0)
	case models.RetentionSixMonths:
		at = now.AddDate(0, 6, 0)
	case models.RetentionOneYear:
		at = now.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &at
}
