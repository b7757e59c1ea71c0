package sandbox

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/guildhook/guildhook/internal/domain/execution"
)

// Staging limits per run.
const (
	MaxStagedMutations = 256
	MaxStoreKeyLength  = 128
	MaxStoreValueBytes = 64 << 10
	MaxPointsDelta     = 1_000_000
)

type overlayValue struct {
	value   any
	deleted bool
}

// staging buffers every state change a run makes. Nothing here reaches the
// DocumentStore until the run completes and the caller commits Mutations.
type staging struct {
	mu        sync.Mutex
	mutations []execution.Mutation
	store     map[string]overlayValue
	points    map[string]int64
	tenant    map[string]any
	discarded bool
}

func newStaging() *staging {
	return &staging{
		store:  make(map[string]overlayValue),
		points: make(map[string]int64),
	}
}

// room reports whether one more mutation may be staged. Callers hold mu.
func (st *staging) room() error {
	if st.discarded {
		return callErr(execution.CodeInvalidRequest, "run is no longer active")
	}
	if len(st.mutations) >= MaxStagedMutations {
		return callErr(CodeLimitExceeded, "more than %d staged changes", MaxStagedMutations)
	}
	return nil
}

func (st *staging) append(m execution.Mutation) error {
	if err := st.room(); err != nil {
		return err
	}
	st.mutations = append(st.mutations, m)
	return nil
}

// storeGet returns the staged value for key, if the run has written it.
func (st *staging) storeGet(key string) (overlayValue, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := st.store[key]
	return v, ok
}

func (st *staging) storeSet(key string, value any) error {
	if err := validateStoreKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return callErr(execution.CodeInvalidRequest, "value is not plain data: %v", err)
	}
	if len(data) > MaxStoreValueBytes {
		return callErr(CodeLimitExceeded, "value of %d bytes exceeds %d", len(data), MaxStoreValueBytes)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.append(execution.Mutation{Kind: execution.MutationStorageSet, Key: key, Value: value}); err != nil {
		return err
	}
	st.store[key] = overlayValue{value: value}
	return nil
}

func (st *staging) storeDelete(key string) error {
	if err := validateStoreKey(key); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.append(execution.Mutation{Kind: execution.MutationStorageDelete, Key: key}); err != nil {
		return err
	}
	st.store[key] = overlayValue{deleted: true}
	return nil
}

func (st *staging) pointsAdd(userID string, delta int64, reason string) error {
	if userID == "" {
		return callErr(execution.CodeInvalidRequest, "user_id is required")
	}
	if delta == 0 || delta > MaxPointsDelta || delta < -MaxPointsDelta {
		return callErr(execution.CodeInvalidRequest, "amount must be non-zero and within ±%d", MaxPointsDelta)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.append(execution.Mutation{Kind: execution.MutationPointsAdd, UserID: userID, Delta: delta, Reason: reason}); err != nil {
		return err
	}
	st.points[userID] += delta
	return nil
}

func (st *staging) pointsDelta(userID string) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.points[userID]
}

// tenantDoc returns the staged tenant document, loading it once with load.
func (st *staging) tenantDoc(load func() (map[string]any, error)) (map[string]any, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.tenant != nil {
		return st.tenant, nil
	}
	doc, err := load()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	st.tenant = doc
	return doc, nil
}

// tenantSet applies a protected write to the staged document and records it.
func (st *staging) tenantSet(key string, value any, write func(doc map[string]any) error) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.tenant == nil {
		return fmt.Errorf("tenant document not loaded")
	}
	if err := st.room(); err != nil {
		return err
	}
	if err := write(st.tenant); err != nil {
		return err
	}
	st.mutations = append(st.mutations, execution.Mutation{Kind: execution.MutationTenantSet, Key: key, Value: value})
	return nil
}

// snapshot returns a copy of the staged mutations.
func (st *staging) snapshot() []execution.Mutation {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.mutations) == 0 {
		return nil
	}
	out := make([]execution.Mutation, len(st.mutations))
	copy(out, st.mutations)
	return out
}

// discard drops everything. Later writes are rejected.
func (st *staging) discard() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.discarded = true
	st.mutations = nil
	st.store = make(map[string]overlayValue)
	st.points = make(map[string]int64)
	st.tenant = nil
}

func validateStoreKey(key string) error {
	if key == "" {
		return callErr(execution.CodeInvalidRequest, "key is required")
	}
	if len(key) > MaxStoreKeyLength {
		return callErr(execution.CodeInvalidRequest, "key longer than %d bytes", MaxStoreKeyLength)
	}
	return nil
}
