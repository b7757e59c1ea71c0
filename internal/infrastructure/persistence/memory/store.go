// Package memory provides in-memory implementations of the store ports.
// Useful for tests, local runs and ephemeral hosts.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence"
)

// Ensure interface compliance
var (
	_ ports.DocumentStore     = (*Store)(nil)
	_ ports.InstallationStore = (*Store)(nil)
	_ ports.ExtensionCatalog  = (*Store)(nil)
	_ ports.CodeStore         = (*Store)(nil)
	_ ports.SettingsStore     = (*Store)(nil)
)

// LedgerEntry is one committed points change.
type LedgerEntry struct {
	TenantID    string
	UserID      string
	Delta       int64
	Reason      string
	ExtensionID string
	RunID       string
	At          time.Time
}

// Store keeps every document in maps guarded by one RWMutex.
// Values are deep-copied on the way in and out so callers never share state.
type Store struct {
	mu            sync.RWMutex
	tenants       map[string]map[string]any
	kv            map[string]any
	ledger        []LedgerEntry
	appliedRuns   map[string]bool
	installations map[string]*extension.Installation
	manifests     map[string]map[string]*extension.Manifest
	code          map[string][]byte
	settings      map[string]string
	now           func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tenants:       make(map[string]map[string]any),
		kv:            make(map[string]any),
		appliedRuns:   make(map[string]bool),
		installations: make(map[string]*extension.Installation),
		manifests:     make(map[string]map[string]*extension.Manifest),
		code:          make(map[string][]byte),
		settings:      make(map[string]string),
		now:           time.Now,
	}
}

func kvKey(tenantID, extensionID, key string) string {
	return tenantID + "\x00" + extensionID + "\x00" + key
}

// PutTenant replaces a tenant's settings document.
func (s *Store) PutTenant(_ context.Context, tenantID string, doc map[string]any) error {
	cp, err := persistence.CloneDocument(doc)
	if err != nil {
		return fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenantID] = cp
	return nil
}

// GetTenant returns a copy of the tenant document; unknown tenants have an empty one.
func (s *Store) GetTenant(_ context.Context, tenantID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return persistence.CloneDocument(s.tenants[tenantID])
}

// GetStoreValue reads one extension key/value entry.
func (s *Store) GetStoreValue(_ context.Context, tenantID, extensionID, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[kvKey(tenantID, extensionID, key)]
	if !ok {
		return nil, false, nil
	}
	cp, err := persistence.CloneDocument(map[string]any{"v": v})
	if err != nil {
		return nil, false, err
	}
	return cp["v"], true, nil
}

// PointsBalance sums the ledger for a user.
func (s *Store) PointsBalance(_ context.Context, tenantID, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.ledger {
		if e.TenantID == tenantID && e.UserID == userID {
			total += e.Delta
		}
	}
	return total, nil
}

// Ledger returns the committed ledger entries for a tenant, oldest first.
func (s *Store) Ledger(tenantID string) []LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LedgerEntry
	for _, e := range s.ledger {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out
}

// ApplyMutations commits a run's mutations all at once. A run id that was already
// applied is a no-op, so retried commits do not double-count.
func (s *Store) ApplyMutations(_ context.Context, tenantID, extensionID, runID string, mutations []execution.Mutation) error {
	if err := persistence.ValidateMutations(mutations); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if runID != "" && s.appliedRuns[runID] {
		return nil
	}

	// Build the new tenant document and kv changes before touching shared state.
	doc, err := persistence.CloneDocument(s.tenants[tenantID])
	if err != nil {
		return err
	}
	if err := persistence.ApplyTenantMutations(doc, mutations); err != nil {
		return err
	}
	kvChanges := make(map[string]*any)
	var entries []LedgerEntry
	now := s.now()
	for _, m := range mutations {
		switch m.Kind {
		case execution.MutationStorageSet:
			cp, err := persistence.CloneDocument(map[string]any{"v": m.Value})
			if err != nil {
				return fmt.Errorf("store value %q: %w", m.Key, err)
			}
			v := cp["v"]
			kvChanges[m.Key] = &v
		case execution.MutationStorageDelete:
			kvChanges[m.Key] = nil
		case execution.MutationPointsAdd:
			entries = append(entries, LedgerEntry{
				TenantID: tenantID, UserID: m.UserID, Delta: m.Delta, Reason: m.Reason,
				ExtensionID: extensionID, RunID: runID, At: now,
			})
		}
	}

	s.tenants[tenantID] = doc
	for key, v := range kvChanges {
		if v == nil {
			delete(s.kv, kvKey(tenantID, extensionID, key))
		} else {
			s.kv[kvKey(tenantID, extensionID, key)] = *v
		}
	}
	s.ledger = append(s.ledger, entries...)
	if runID != "" {
		s.appliedRuns[runID] = true
	}
	return nil
}

// GetInstallation returns a copy of one installation.
func (s *Store) GetInstallation(_ context.Context, tenantID, extensionID string) (*extension.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.installations[extension.InstallationKey(tenantID, extensionID)]
	if !ok {
		return nil, fmt.Errorf("installation %s: %w", extension.InstallationKey(tenantID, extensionID), apperrors.ErrNotFound)
	}
	return persistence.Clone(inst)
}

// ListInstallations returns a tenant's installations sorted by extension id.
func (s *Store) ListInstallations(_ context.Context, tenantID string) ([]*extension.Installation, error) {
	return s.list(func(i *extension.Installation) bool { return i.TenantID == tenantID })
}

// ListEnabled returns every enabled installation across tenants.
func (s *Store) ListEnabled(_ context.Context) ([]*extension.Installation, error) {
	return s.list(func(i *extension.Installation) bool { return i.Enabled })
}

func (s *Store) list(match func(*extension.Installation) bool) ([]*extension.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*extension.Installation
	for _, inst := range s.installations {
		if !match(inst) {
			continue
		}
		cp, err := persistence.Clone(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// SaveInstallation inserts or replaces an installation.
func (s *Store) SaveInstallation(_ context.Context, inst *extension.Installation) error {
	cp, err := persistence.Clone(inst)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.installations[inst.Key()] = cp
	return nil
}

// DeleteInstallation removes an installation.
func (s *Store) DeleteInstallation(_ context.Context, tenantID, extensionID string) error {
	key := extension.InstallationKey(tenantID, extensionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.installations[key]; !ok {
		return fmt.Errorf("installation %s: %w", key, apperrors.ErrNotFound)
	}
	delete(s.installations, key)
	return nil
}

// GetManifest returns one manifest version.
func (s *Store) GetManifest(_ context.Context, extensionID, version string) (*extension.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[extensionID][version]
	if !ok {
		return nil, fmt.Errorf("manifest %s@%s: %w", extensionID, version, apperrors.ErrNotFound)
	}
	return persistence.Clone(m)
}

// ListVersions returns the published versions of an extension.
func (s *Store) ListVersions(_ context.Context, extensionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.manifests[extensionID]))
	for v := range s.manifests[extensionID] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// PublishManifest stores a new version. Existing versions are immutable.
func (s *Store) PublishManifest(_ context.Context, m *extension.Manifest) error {
	cp, err := persistence.Clone(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[m.ID][m.Version]; ok {
		return fmt.Errorf("manifest %s: %w", m.Key(), apperrors.ErrConflict)
	}
	if s.manifests[m.ID] == nil {
		s.manifests[m.ID] = make(map[string]*extension.Manifest)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.manifests[m.ID][m.Version] = cp
	return nil
}

// GetCode returns guest code, verifying content-addressed references.
func (s *Store) GetCode(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	code, ok := s.code[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("code %s: %w", ref, apperrors.ErrNotFound)
	}
	if err := persistence.VerifyCode(ref, code); err != nil {
		return nil, err
	}
	return append([]byte(nil), code...), nil
}

// PutCode stores code under its content address.
func (s *Store) PutCode(_ context.Context, code []byte) (string, error) {
	ref := persistence.CodeRef(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code[ref] = append([]byte(nil), code...)
	return ref, nil
}

// GetSetting reads an operator setting.
func (s *Store) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

// SetSetting writes an operator setting.
func (s *Store) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}
