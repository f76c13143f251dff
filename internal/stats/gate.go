package stats

import "time"

// Access is the network tier granted by the ratio gate.
type Access string

const (
	// AccessFull allows unrestricted network queries.
	AccessFull Access = "full"
	// AccessThrottled signals the caller should slow down or go local-only;
	// it is distinct from a hard block and safe to retry later.
	AccessThrottled Access = "throttled"
	// AccessDenied restricts the vault to local sources.
	AccessDenied Access = "denied"
)

const (
	// GraceDays is the window after vault creation with unconditional access.
	GraceDays = 14

	fullRatio     = 0.1
	throttleRatio = 0.05
	throttleFloor = 50
	denialAgeDays = 30
)

// Decision explains a gate evaluation.
type Decision struct {
	Access      Access  `json:"access"`
	Ratio       float64 `json:"ratio"`
	AgeDays     int     `json:"age_days"`
	GraceActive bool    `json:"grace_active"`
}

// Evaluate applies the ratio gate to a stats snapshot. Thresholds are
// checked fresh on every call; nothing is cached across stats updates.
func Evaluate(st *Stats, now time.Time) Decision {
	ageDays := int(now.Sub(st.CreatedAt).Hours() / 24)
	ratio := st.Ratio()

	d := Decision{Ratio: ratio, AgeDays: ageDays}

	switch {
	case ageDays <= GraceDays:
		d.Access = AccessFull
		d.GraceActive = true
	case ratio >= fullRatio:
		d.Access = AccessFull
	case st.ApprovedContributions == 0 && ageDays > denialAgeDays:
		d.Access = AccessDenied
	case ratio < throttleRatio && st.TotalQueries > throttleFloor:
		d.Access = AccessThrottled
	default:
		d.Access = AccessFull
	}
	return d
}
