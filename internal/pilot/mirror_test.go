package pilot

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsight/internal/types"
)

// memStore is an in-memory KVStore standing in for browser local storage.
type memStore struct {
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(key string) (string, bool) {
	v, ok := s.data[key]
	return v, ok
}

func (s *memStore) Set(key, value string) error {
	s.data[key] = value
	return nil
}

func TestNewMirror_MissingStateMeansZeroUsage(t *testing.T) {
	m := NewMirror(newMemStore(), DefaultLimits(), true)
	assert.Equal(t, DefaultLimits().AIQueryLimit, m.AIQueriesRemaining())
	assert.True(t, m.CanCreateAlert())
}

func TestNewMirror_LoadsPersistedState(t *testing.T) {
	store := newMemStore()
	store.data[storageKey] = `{"ai_queries_used":7,"alert_rules_created":2,"csv_files_uploaded":1}`

	m := NewMirror(store, DefaultLimits(), true)
	assert.Equal(t, 3, m.AIQueriesRemaining())
	assert.False(t, m.CanCreateAlert())
}

func TestNewMirror_CorruptStateFallsBackToZero(t *testing.T) {
	store := newMemStore()
	store.data[storageKey] = "{not json"

	m := NewMirror(store, DefaultLimits(), true)
	assert.Equal(t, DefaultLimits().AIQueryLimit, m.AIQueriesRemaining())
}

func TestUseAIQuery_PilotBoundary(t *testing.T) {
	m := NewMirror(newMemStore(), DefaultLimits(), true)

	for i := 0; i < DefaultLimits().AIQueryLimit; i++ {
		require.True(t, m.UseAIQuery(), "query %d should succeed", i+1)
	}
	assert.False(t, m.UseAIQuery(), "query beyond the limit must be denied")
	assert.Equal(t, 0, m.AIQueriesRemaining())
}

func TestUseAIQuery_DenialDoesNotMutate(t *testing.T) {
	store := newMemStore()
	store.data[storageKey] = `{"ai_queries_used":10}`
	m := NewMirror(store, DefaultLimits(), true)

	assert.False(t, m.UseAIQuery())

	var rec usageRecord
	require.NoError(t, json.Unmarshal([]byte(store.data[storageKey]), &rec))
	assert.Equal(t, 10, rec.AIQueriesUsed)
}

func TestUseAIQuery_NonPilotNeverMutates(t *testing.T) {
	store := newMemStore()
	m := NewMirror(store, DefaultLimits(), false)

	for i := 0; i < 50; i++ {
		require.True(t, m.UseAIQuery())
	}
	// Nothing was ever persisted: non-pilot calls do not touch state.
	_, ok := store.Get(storageKey)
	assert.False(t, ok)
}

func TestMutationsPersistFullRecord(t *testing.T) {
	store := newMemStore()
	m := NewMirror(store, DefaultLimits(), true)

	require.True(t, m.UseAIQuery())
	m.RecordAlertCreated()
	m.RecordCSVUploaded()

	var rec usageRecord
	require.NoError(t, json.Unmarshal([]byte(store.data[storageKey]), &rec))
	assert.Equal(t, usageRecord{AIQueriesUsed: 1, AlertRulesCreated: 1, CSVFilesUploaded: 1}, rec)
}

// brokenStore rejects every write, standing in for a full or disabled
// browser storage.
type brokenStore struct {
	sets int
}

func (s *brokenStore) Get(string) (string, bool) { return "", false }

func (s *brokenStore) Set(string, string) error {
	s.sets++
	return errors.New("storage quota exceeded")
}

func TestMutations_SurviveStoreWriteFailure(t *testing.T) {
	store := &brokenStore{}
	m := NewMirror(store, DefaultLimits(), true)

	// The store rejects every persist, but the in-memory state still
	// advances: the mirror is advisory and the server ledger stays
	// authoritative.
	require.True(t, m.UseAIQuery())
	m.RecordAlertCreated()
	m.RecordCSVUploaded()
	m.Reconcile(types.UsageSnapshot{AIQueriesUsed: 6, PilotMode: true})

	assert.Equal(t, DefaultLimits().AIQueryLimit-6, m.AIQueriesRemaining())
	assert.True(t, m.CanCreateAlert())
	assert.Greater(t, store.sets, 0)
}

func TestCanUploadCSV_SizeBoundary(t *testing.T) {
	m := NewMirror(newMemStore(), DefaultLimits(), true)
	limit := DefaultLimits().MaxUploadBytes

	assert.True(t, m.CanUploadCSV(limit))
	assert.False(t, m.CanUploadCSV(limit+1))
}

func TestReconcile_ServerSnapshotWins(t *testing.T) {
	store := newMemStore()
	m := NewMirror(store, DefaultLimits(), true)
	require.True(t, m.UseAIQuery())

	// Server says usage is actually higher (another device consumed quota).
	m.Reconcile(types.UsageSnapshot{
		AIQueriesUsed:     9,
		AlertRulesCreated: 2,
		CSVFilesUploaded:  0,
		PilotMode:         true,
	})

	assert.Equal(t, 1, m.AIQueriesRemaining())
	assert.False(t, m.CanCreateAlert())

	var rec usageRecord
	require.NoError(t, json.Unmarshal([]byte(store.data[storageKey]), &rec))
	assert.Equal(t, 9, rec.AIQueriesUsed)
}

func TestReconcile_UpgradeLiftsGating(t *testing.T) {
	m := NewMirror(newMemStore(), DefaultLimits(), true)
	for i := 0; i < DefaultLimits().AIQueryLimit; i++ {
		require.True(t, m.UseAIQuery())
	}
	require.False(t, m.UseAIQuery())

	// Checkout completed: server reports non-pilot with a reset ledger.
	m.Reconcile(types.UsageSnapshot{PilotMode: false})

	assert.True(t, m.UseAIQuery())
}

func TestReset_ZeroesAllCounters(t *testing.T) {
	store := newMemStore()
	m := NewMirror(store, DefaultLimits(), true)
	require.True(t, m.UseAIQuery())
	m.RecordAlertCreated()

	m.Reset()

	var rec usageRecord
	require.NoError(t, json.Unmarshal([]byte(store.data[storageKey]), &rec))
	assert.Equal(t, usageRecord{}, rec)
	assert.Equal(t, DefaultLimits().AIQueryLimit, m.AIQueriesRemaining())
}
