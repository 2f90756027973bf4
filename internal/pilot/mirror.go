// Package pilot holds the client-side mirror of the pilot quota state. The
// dashboard embeds this to gate actions optimistically without a round trip;
// the server-side policy in internal/quota stays authoritative, and the mirror
// reconciles from server usage snapshots after every metered call.
package pilot

import (
	"encoding/json"
	"fmt"
	"sync"

	"opsight/internal/quota"
	"opsight/internal/types"
)

// KVStore abstracts the ambient persistent storage the mirror lives in
// (browser local storage in the real client). Injected so the mirror is
// testable without a browser-like environment.
type KVStore interface {
	Get(key string) (string, bool)
	Set(key string, value string) error
}

// storageKey is the single key under which the usage record is persisted.
const storageKey = "opsight_pilot_usage"

// Limits is the static pilot limit table the mirror gates against. The field
// holding the AI query cap is a limit, not a remaining count; remaining is
// always computed as limit minus used.
type Limits struct {
	AIQueryLimit   int   `json:"ai_query_limit"`
	AlertRuleLimit int   `json:"alert_rule_limit"`
	MaxUploadBytes int64 `json:"max_upload_bytes"`
	RetentionDays  int   `json:"retention_days"`
}

// DefaultLimits mirrors the server-side pilot policy constants.
func DefaultLimits() Limits {
	return Limits{
		AIQueryLimit:   quota.PilotAIQueryLimit,
		AlertRuleLimit: quota.PilotAlertRuleLimit,
		MaxUploadBytes: quota.PilotMaxUploadBytes,
		RetentionDays:  30,
	}
}

// usageRecord is the persisted mutable state.
type usageRecord struct {
	AIQueriesUsed     int `json:"ai_queries_used"`
	AlertRulesCreated int `json:"alert_rules_created"`
	CSVFilesUploaded  int `json:"csv_files_uploaded"`
}

// Mirror is the advisory client-local copy of the quota state. It must never
// be trusted as the sole gate for a billed action: it can drift from the
// server ledger (page reload on another device) until the next Reconcile.
type Mirror struct {
	mu        sync.Mutex
	store     KVStore
	limits    Limits
	usage     usageRecord
	pilotMode bool
}

// NewMirror builds a mirror over the given store, loading any previously
// persisted usage record. A missing or unreadable record means zero usage,
// not an error.
func NewMirror(store KVStore, limits Limits, pilotMode bool) *Mirror {
	m := &Mirror{
		store:     store,
		limits:    limits,
		pilotMode: pilotMode,
	}
	if raw, ok := store.Get(storageKey); ok {
		// Corrupt state falls back to zero usage; the next persist overwrites it.
		_ = json.Unmarshal([]byte(raw), &m.usage)
	}
	return m
}

// persist writes the full usage record back to the store. Last writer wins;
// there is no merge.
//
// Callers discard the returned error. The mirror is an advisory cache of the
// server ledger: a failed write only means the stored record goes stale until
// the next mutation or Reconcile rewrites it, and the in-memory state already
// carries the update for the rest of the session.
func (m *Mirror) persist() error {
	raw, err := json.Marshal(m.usage)
	if err != nil {
		return fmt.Errorf("marshal pilot usage: %w", err)
	}
	return m.store.Set(storageKey, string(raw))
}

// UseAIQuery gates an AI query. Outside pilot mode it always succeeds without
// touching state. In pilot mode it denies without mutation once the limit is
// reached, otherwise it increments the counter, re-persists, and allows.
func (m *Mirror) UseAIQuery() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.pilotMode {
		return true
	}
	if m.usage.AIQueriesUsed >= m.limits.AIQueryLimit {
		return false
	}
	m.usage.AIQueriesUsed++
	_ = m.persist()
	return true
}

// CanCreateAlert reports whether another alert rule fits within the pilot
// limit. Pure predicate; no mutation.
func (m *Mirror) CanCreateAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pilotMode {
		return true
	}
	return m.usage.AlertRulesCreated < m.limits.AlertRuleLimit
}

// CanUploadCSV reports whether a file of the given size fits within the pilot
// per-file cap. Pure predicate; no mutation.
func (m *Mirror) CanUploadCSV(size int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pilotMode {
		return true
	}
	return size <= m.limits.MaxUploadBytes
}

// RecordAlertCreated bumps the local alert counter after a server-confirmed
// creation and re-persists.
func (m *Mirror) RecordAlertCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.AlertRulesCreated++
	_ = m.persist()
}

// RecordCSVUploaded bumps the local upload counter after a server-confirmed
// upload and re-persists.
func (m *Mirror) RecordCSVUploaded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage.CSVFilesUploaded++
	_ = m.persist()
}

// AIQueriesRemaining computes the remaining AI queries at read time from the
// limit and the used count. Never stored.
func (m *Mirror) AIQueriesRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.limits.AIQueryLimit - m.usage.AIQueriesUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reconcile replaces the local usage record with a server-authoritative
// snapshot and re-persists. Called after every metered server response so
// local drift never survives a round trip.
func (m *Mirror) Reconcile(snap types.UsageSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = usageRecord{
		AIQueriesUsed:     snap.AIQueriesUsed,
		AlertRulesCreated: snap.AlertRulesCreated,
		CSVFilesUploaded:  snap.CSVFilesUploaded,
	}
	m.pilotMode = snap.PilotMode
	_ = m.persist()
}

// Reset zeroes all counters and re-persists. Mirrors the server-side ledger
// reset that follows a successful checkout.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = usageRecord{}
	_ = m.persist()
}
