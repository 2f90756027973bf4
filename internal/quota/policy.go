// Package quota implements the pilot-mode metering policy: pure decision
// functions that compare usage-ledger counters against plan-derived limits.
//
// The policy has no side effects. Callers perform the gated action only after
// an allowed decision and record usage afterwards; the check therefore runs
// against the pre-action counter value, so exactly `limit` actions succeed
// before the first denial.
package quota

import (
	"fmt"

	"opsight/internal/types"
)

// Pilot-mode limits. These are the only enforced quotas: every non-pilot
// subscription status is unlimited as far as this policy is concerned.
const (
	PilotAIQueryLimit   = 10
	PilotAlertRuleLimit = 2
	PilotMaxUploadBytes = 5 * 1024 * 1024 // 5 MiB per file
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed      bool
	LimitReached bool
	Message      string
}

// allow is the shared "no restriction applies" decision.
var allow = Decision{Allowed: true}

// IsPilotMode reports whether the user is in the trial tier: either no
// Subscription row exists or its status is TRIAL. ACTIVE, PAST_DUE, CANCELED
// and UNPAID are all treated as non-pilot here; the billing handlers
// distinguish them, the quota policy does not.
func IsPilotMode(sub *types.Subscription) bool {
	return sub == nil || sub.Status == types.SubStatusTrial
}

// CheckAIQuery decides whether another AI insight request may proceed given
// the current ledger counter. Denies once usage has reached the pilot limit.
func CheckAIQuery(sub *types.Subscription, aiQueriesUsed int) Decision {
	if !IsPilotMode(sub) {
		return allow
	}
	if aiQueriesUsed >= PilotAIQueryLimit {
		return Decision{
			LimitReached: true,
			Message: fmt.Sprintf(
				"You've used all %d AI queries included in your pilot. Upgrade to keep asking questions about your data.",
				PilotAIQueryLimit,
			),
		}
	}
	return allow
}

// CheckAlertRule decides whether another alert rule may be created.
func CheckAlertRule(sub *types.Subscription, alertRulesCreated int) Decision {
	if !IsPilotMode(sub) {
		return allow
	}
	if alertRulesCreated >= PilotAlertRuleLimit {
		return Decision{
			LimitReached: true,
			Message: fmt.Sprintf(
				"Pilot accounts can keep up to %d alert rules. Upgrade to add more.",
				PilotAlertRuleLimit,
			),
		}
	}
	return allow
}

// CheckCSVUpload decides whether a CSV file of the given size may be uploaded.
// Unlike the count-based checks this is a per-file size gate: a file of
// exactly the limit is allowed, one byte more is denied.
func CheckCSVUpload(sub *types.Subscription, fileSize int64) Decision {
	if !IsPilotMode(sub) {
		return allow
	}
	if fileSize > PilotMaxUploadBytes {
		return Decision{
			LimitReached: true,
			Message: fmt.Sprintf(
				"Pilot uploads are limited to %d MB per file. Upgrade for larger imports.",
				PilotMaxUploadBytes/(1024*1024),
			),
		}
	}
	return allow
}

// Snapshot builds the server-authoritative usage view returned alongside
// metered responses. Remaining counts are computed at read time from the
// limit, never stored.
func Snapshot(sub *types.Subscription, usage types.UsageTracking) types.UsageSnapshot {
	pilot := IsPilotMode(sub)
	remaining := -1 // unlimited sentinel for non-pilot accounts
	if pilot {
		remaining = PilotAIQueryLimit - usage.AIQueriesUsed
		if remaining < 0 {
			remaining = 0
		}
	}
	return types.UsageSnapshot{
		AIQueriesUsed:      usage.AIQueriesUsed,
		AIQueriesRemaining: remaining,
		AlertRulesCreated:  usage.AlertRulesCreated,
		CSVFilesUploaded:   usage.CSVFilesUploaded,
		PilotMode:          pilot,
	}
}
