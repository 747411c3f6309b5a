package models

import (
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type ThreatType string

const (
	ThreatBruteForce        ThreatType = "BRUTE_FORCE_ATTEMPT"
	ThreatExcessiveAccess   ThreatType = "EXCESSIVE_DATA_ACCESS"
	ThreatAPIAbuse          ThreatType = "API_ABUSE"
	ThreatUnusualLocation   ThreatType = "UNUSUAL_LOCATION_PATTERN"
	ThreatSessionHijack     ThreatType = "SESSION_HIJACK"
	ThreatAutomatedActivity ThreatType = "AUTOMATED_ACTIVITY"
)

type ThreatStatus string

const (
	ThreatActive   ThreatStatus = "ACTIVE"
	ThreatResolved ThreatStatus = "RESOLVED"
)

type AlertStatus string

const (
	AlertActive    AlertStatus = "ACTIVE"
	AlertDismissed AlertStatus = "DISMISSED"
)

// Threat is a detected pattern together with the events that triggered it.
type Threat struct {
	ID          string          `json:"id"`
	Type        ThreatType      `json:"type"`
	Severity    Severity        `json:"severity"`
	Description string          `json:"description"`
	Subject     string          `json:"subject"`
	Events      []SecurityEvent `json:"events"`
	Status      ThreatStatus    `json:"status"`
	DetectedAt  time.Time       `json:"detected_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// Alert is the operator-facing notice derived from a Threat. Dismissing an
// alert leaves its threat untouched.
type Alert struct {
	ID          string      `json:"id"`
	ThreatID    string      `json:"threat_id"`
	Type        ThreatType  `json:"type"`
	Severity    Severity    `json:"severity"`
	Message     string      `json:"message"`
	Timestamp   time.Time   `json:"timestamp"`
	Status      AlertStatus `json:"status"`
	Actions     []string    `json:"actions"`
	DismissedAt *time.Time  `json:"dismissed_at,omitempty"`
}

var recommendedActions = map[Severity][]string{
	SeverityCritical: {
		"Start incident response",
		"Lock affected accounts",
		"Force sign-out of all sessions",
		"Notify an administrator immediately",
	},
	SeverityHigh: {
		"Lock the affected account",
		"Force sign-out of active sessions",
		"Notify an administrator",
	},
	SeverityMedium: {
		"Review recent activity for the account",
		"Monitor the account closely",
	},
	SeverityLow: {
		"Log for periodic review",
	},
}

// RecommendedActions returns the operator actions for a severity.
func RecommendedActions(s Severity) []string {
	actions := recommendedActions[s]
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}
