// Package sqlite implements the store ports on a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/infrastructure/persistence"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

var (
	_ ports.DocumentStore     = (*Store)(nil)
	_ ports.InstallationStore = (*Store)(nil)
	_ ports.ExtensionCatalog  = (*Store)(nil)
	_ ports.CodeStore         = (*Store)(nil)
	_ ports.SettingsStore     = (*Store)(nil)
)

// Store keeps tenant documents, extension state and the catalog in SQLite.
// TEXT columns hold JSON documents whose shape is owned by the domain types.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" databases intact.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and creates missing tables.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		tenant_id TEXT PRIMARY KEY,
		document TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS extension_store (
		tenant_id TEXT NOT NULL,
		extension_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (tenant_id, extension_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS points_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		extension_id TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS points_ledger_user ON points_ledger (tenant_id, user_id)`,
	`CREATE TABLE IF NOT EXISTS applied_runs (
		run_id TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS installations (
		tenant_id TEXT NOT NULL,
		extension_id TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		PRIMARY KEY (tenant_id, extension_id)
	)`,
	`CREATE TABLE IF NOT EXISTS manifests (
		extension_id TEXT NOT NULL,
		version TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (extension_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS code (
		ref TEXT PRIMARY KEY,
		body BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// PutTenant replaces a tenant's settings document.
func (s *Store) PutTenant(ctx context.Context, tenantID string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (tenant_id, document) VALUES (?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET document = excluded.document`,
		tenantID, string(data))
	if err != nil {
		return fmt.Errorf("failed to store tenant %s: %w", tenantID, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadTenant(ctx context.Context, q queryer, tenantID string) (map[string]any, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT document FROM tenants WHERE tenant_id = ?`, tenantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("tenant %s: corrupt document: %w", tenantID, err)
	}
	return doc, nil
}

// GetTenant returns the tenant document; unknown tenants have an empty one.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (map[string]any, error) {
	return loadTenant(ctx, s.db, tenantID)
}

// GetStoreValue reads one extension key/value entry.
func (s *Store) GetStoreValue(ctx context.Context, tenantID, extensionID, key string) (any, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM extension_store WHERE tenant_id = ? AND extension_id = ? AND key = ?`,
		tenantID, extensionID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read store key %q: %w", key, err)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("store key %q: corrupt value: %w", key, err)
	}
	return v, true, nil
}

// PointsBalance sums the ledger for a user.
func (s *Store) PointsBalance(ctx context.Context, tenantID, userID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM points_ledger WHERE tenant_id = ? AND user_id = ?`,
		tenantID, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum points: %w", err)
	}
	return total, nil
}

// ApplyMutations commits a run's mutations in one transaction. A run id that was
// already applied is a no-op.
func (s *Store) ApplyMutations(ctx context.Context, tenantID, extensionID, runID string, mutations []execution.Mutation) (err error) {
	if err := persistence.ValidateMutations(mutations); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return markTransient(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			err = markTransient(err)
		}
	}()

	now := s.now().UTC()
	if runID != "" {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO applied_runs (run_id, applied_at) VALUES (?, ?) ON CONFLICT (run_id) DO NOTHING`,
			runID, now)
		if err != nil {
			return fmt.Errorf("failed to record run %s: %w", runID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return tx.Rollback()
		}
	}

	tenantChanged := false
	for _, m := range mutations {
		switch m.Kind {
		case execution.MutationStorageSet:
			data, err := json.Marshal(m.Value)
			if err != nil {
				return fmt.Errorf("store value %q: %w", m.Key, err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO extension_store (tenant_id, extension_id, key, value) VALUES (?, ?, ?, ?)
				ON CONFLICT (tenant_id, extension_id, key) DO UPDATE SET value = excluded.value`,
				tenantID, extensionID, m.Key, string(data))
			if err != nil {
				return fmt.Errorf("failed to write store key %q: %w", m.Key, err)
			}
		case execution.MutationStorageDelete:
			_, err := tx.ExecContext(ctx,
				`DELETE FROM extension_store WHERE tenant_id = ? AND extension_id = ? AND key = ?`,
				tenantID, extensionID, m.Key)
			if err != nil {
				return fmt.Errorf("failed to delete store key %q: %w", m.Key, err)
			}
		case execution.MutationPointsAdd:
			_, err := tx.ExecContext(ctx,
				`INSERT INTO points_ledger (tenant_id, user_id, delta, reason, extension_id, run_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				tenantID, m.UserID, m.Delta, m.Reason, extensionID, runID, now)
			if err != nil {
				return fmt.Errorf("failed to write ledger entry: %w", err)
			}
		case execution.MutationTenantSet:
			tenantChanged = true
		}
	}

	if tenantChanged {
		doc, err := loadTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		if err := persistence.ApplyTenantMutations(doc, mutations); err != nil {
			return err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tenants (tenant_id, document) VALUES (?, ?)
			ON CONFLICT (tenant_id) DO UPDATE SET document = excluded.document`,
			tenantID, string(data))
		if err != nil {
			return fmt.Errorf("failed to store tenant %s: %w", tenantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mutations: %w", err)
	}
	return nil
}

// markTransient tags lock contention so the caller may retry the commit.
func markTransient(err error) error {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
		}
	}
	return err
}

// GetInstallation reads one installation.
func (s *Store) GetInstallation(ctx context.Context, tenantID, extensionID string) (*extension.Installation, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM installations WHERE tenant_id = ? AND extension_id = ?`,
		tenantID, extensionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("installation %s: %w", extension.InstallationKey(tenantID, extensionID), apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read installation: %w", err)
	}
	return decodeInstallation(raw)
}

func decodeInstallation(raw string) (*extension.Installation, error) {
	inst := &extension.Installation{}
	if err := json.Unmarshal([]byte(raw), inst); err != nil {
		return nil, fmt.Errorf("corrupt installation: %w", err)
	}
	return inst, nil
}

// ListInstallations returns a tenant's installations ordered by extension id.
func (s *Store) ListInstallations(ctx context.Context, tenantID string) ([]*extension.Installation, error) {
	return s.queryInstallations(ctx,
		`SELECT data FROM installations WHERE tenant_id = ? ORDER BY extension_id`, tenantID)
}

// ListEnabled returns every enabled installation.
func (s *Store) ListEnabled(ctx context.Context) ([]*extension.Installation, error) {
	return s.queryInstallations(ctx,
		`SELECT data FROM installations WHERE enabled = 1 ORDER BY tenant_id, extension_id`)
}

func (s *Store) queryInstallations(ctx context.Context, query string, args ...any) ([]*extension.Installation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list installations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*extension.Installation
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		inst, err := decodeInstallation(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// SaveInstallation inserts or replaces an installation.
func (s *Store) SaveInstallation(ctx context.Context, inst *extension.Installation) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO installations (tenant_id, extension_id, enabled, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, extension_id) DO UPDATE SET enabled = excluded.enabled, data = excluded.data`,
		inst.TenantID, inst.ExtensionID, inst.Enabled, string(data))
	if err != nil {
		return fmt.Errorf("failed to save installation %s: %w", inst.Key(), err)
	}
	return nil
}

// DeleteInstallation removes an installation.
func (s *Store) DeleteInstallation(ctx context.Context, tenantID, extensionID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM installations WHERE tenant_id = ? AND extension_id = ?`, tenantID, extensionID)
	if err != nil {
		return fmt.Errorf("failed to delete installation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("installation %s: %w", extension.InstallationKey(tenantID, extensionID), apperrors.ErrNotFound)
	}
	return nil
}

// GetManifest reads one manifest version.
func (s *Store) GetManifest(ctx context.Context, extensionID, version string) (*extension.Manifest, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM manifests WHERE extension_id = ? AND version = ?`, extensionID, version).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("manifest %s@%s: %w", extensionID, version, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m := &extension.Manifest{}
	if err := json.Unmarshal([]byte(raw), m); err != nil {
		return nil, fmt.Errorf("corrupt manifest %s@%s: %w", extensionID, version, err)
	}
	return m, nil
}

// ListVersions returns the published versions of an extension.
func (s *Store) ListVersions(ctx context.Context, extensionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM manifests WHERE extension_id = ? ORDER BY version`, extensionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	versions := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// PublishManifest stores a new version. Existing versions are immutable.
func (s *Store) PublishManifest(ctx context.Context, m *extension.Manifest) error {
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO manifests (extension_id, version, data) VALUES (?, ?, ?)
		ON CONFLICT (extension_id, version) DO NOTHING`,
		m.ID, m.Version, string(data))
	if err != nil {
		return fmt.Errorf("failed to publish manifest %s: %w", m.Key(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("manifest %s: %w", m.Key(), apperrors.ErrConflict)
	}
	return nil
}

// GetCode returns guest code, verifying content-addressed references.
func (s *Store) GetCode(ctx context.Context, ref string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM code WHERE ref = ?`, ref).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("code %s: %w", ref, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read code: %w", err)
	}
	if err := persistence.VerifyCode(ref, body); err != nil {
		return nil, err
	}
	return body, nil
}

// PutCode stores code under its content address.
func (s *Store) PutCode(ctx context.Context, code []byte) (string, error) {
	ref := persistence.CodeRef(code)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO code (ref, body) VALUES (?, ?) ON CONFLICT (ref) DO NOTHING`, ref, code)
	if err != nil {
		return "", fmt.Errorf("failed to store code: %w", err)
	}
	return ref, nil
}

// GetSetting reads an operator setting.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return v, true, nil
}

// SetSetting writes an operator setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}
