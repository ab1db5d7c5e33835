package alerts

import (
	"strconv"
	"strings"
	"time"

	"github.com/bazaarmirror/bazaarmirror/server/internal/refresher"
)

// evalCondition evaluates a rule condition string against a refresher status.
//
// Supported expressions (field operator value):
//
//	consecutive_failures >= 3
//	age_seconds > 900
//	publish_age_seconds > 600
//	cached_items < 1
//	failures > 10
//	cert_days_left < 14
//	state == backoff
//
// age_seconds is measured from the upstream lastUpdated of the current
// snapshot to now; publish_age_seconds from the local publish time. Both are
// unavailable (never fire) before the first publish.
// cert_days_left is unavailable until the upstream certificate was checked.
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, st refresher.Status, now time.Time) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "state" {
		if op == "==" {
			return string(st.State) == rhs, 0
		}
		if op == "!=" {
			return string(st.State) != rhs, 0
		}
		return false, 0
	}

	v, ok := numericField(field, st, now)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the status.
func numericField(field string, st refresher.Status, now time.Time) (float64, bool) {
	switch field {
	case "consecutive_failures":
		return float64(st.ConsecutiveFailures), true
	case "failures":
		return float64(st.Failures), true
	case "cached_items":
		return float64(st.CachedItems), true
	case "cert_days_left":
		if st.UpstreamCert == nil {
			return 0, false
		}
		return float64(st.UpstreamCert.DaysLeft), true
	case "age_seconds":
		if st.LastUpdated <= 0 {
			return 0, false
		}
		return now.Sub(time.UnixMilli(st.LastUpdated)).Seconds(), true
	case "publish_age_seconds":
		if st.PublishedAt.IsZero() {
			return 0, false
		}
		return now.Sub(st.PublishedAt).Seconds(), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
