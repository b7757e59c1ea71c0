// Package ports defines interfaces for infrastructure dependencies.
// These are the "ports" in hexagonal architecture - abstractions that
// the application layer depends on but doesn't implement.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/domain/platform"
	"github.com/guildhook/guildhook/internal/domain/values"
)

// Platform is the chat platform client. Every mutating operation here is reached
// only through a scope-gated sandbox callback.
type Platform interface {
	// GetGuild fetches a guild with its roles and channels. It is read-only.
	GetGuild(ctx context.Context, guildID string) (*platform.Guild, error)

	SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID string, msg platform.OutgoingMessage) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error

	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error

	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string, deleteMessageDays int) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error

	SetChannelTopic(ctx context.Context, channelID, topic string) error
	SetChannelSlowmode(ctx context.Context, channelID string, seconds int) error

	ReplyInteraction(ctx context.Context, interactionID, token string, msg platform.OutgoingMessage) error
	DeferInteraction(ctx context.Context, interactionID, token string, ephemeral bool) error
}

// ErrUnavailable marks an adapter error as an outage rather than a rejected request.
// Sandbox callbacks turn it into a host fault instead of a guest-visible error.
var ErrUnavailable = errors.New("service unavailable")

// GameServerStatus is a snapshot of a linked game server.
type GameServerStatus struct {
	Name       string `json:"name"`
	Online     bool   `json:"online"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Version    string `json:"version,omitempty"`
}

// GameServerController controls game servers a tenant has linked.
type GameServerController interface {
	Status(ctx context.Context, tenantID, serverID string) (*GameServerStatus, error)
	Command(ctx context.Context, tenantID, serverID, command string) (output string, err error)
}

// DocumentStore reads tenant state and commits staged mutations.
type DocumentStore interface {
	// GetTenant returns a copy of the tenant's settings document.
	GetTenant(ctx context.Context, tenantID string) (map[string]any, error)
	// GetStoreValue reads one key from an extension's per-tenant key/value store.
	GetStoreValue(ctx context.Context, tenantID, extensionID, key string) (value any, found bool, err error)
	// PointsBalance sums the ledger for a user.
	PointsBalance(ctx context.Context, tenantID, userID string) (int64, error)
	// ApplyMutations commits every mutation or none of them.
	ApplyMutations(ctx context.Context, tenantID, extensionID, runID string, mutations []execution.Mutation) error
}

// InstallationStore persists per-tenant installations.
type InstallationStore interface {
	GetInstallation(ctx context.Context, tenantID, extensionID string) (*extension.Installation, error)
	ListInstallations(ctx context.Context, tenantID string) ([]*extension.Installation, error)
	ListEnabled(ctx context.Context) ([]*extension.Installation, error)
	SaveInstallation(ctx context.Context, inst *extension.Installation) error
	DeleteInstallation(ctx context.Context, tenantID, extensionID string) error
}

// ExtensionCatalog stores immutable extension manifests.
type ExtensionCatalog interface {
	GetManifest(ctx context.Context, extensionID, version string) (*extension.Manifest, error)
	ListVersions(ctx context.Context, extensionID string) ([]string, error)
	// PublishManifest stores a new version; publishing an existing version fails.
	PublishManifest(ctx context.Context, m *extension.Manifest) error
}

// CodeStore holds guest code by reference.
type CodeStore interface {
	GetCode(ctx context.Context, ref string) ([]byte, error)
	PutCode(ctx context.Context, code []byte) (ref string, err error)
}

// SettingsStore reads operator-level policy knobs.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (value string, found bool, err error)
}

// ScopePrompter asks a human which scopes to grant during installation.
type ScopePrompter interface {
	IsInteractive() bool
	PromptForScopes(m *extension.Manifest, candidates []capabilities.Scope) ([]capabilities.Scope, error)
	ConfirmNetworkApproval(m *extension.Manifest) (bool, error)
}

// RunSpec describes one isolated run of an extension.
type RunSpec struct {
	RunID           values.RunID
	ExtensionID     string
	Version         string
	TenantID        string
	GuildID         string
	Granted         capabilities.Set
	NetworkTier     capabilities.NetworkTier
	NetworkApproved bool
	Occurrence      *extension.Occurrence
	// Bundles are the plain values guest code can require.
	Bundles map[string]any
	// Timeout overrides the default run budget when positive.
	Timeout time.Duration
}

// Sandbox is the isolation context of exactly one run.
type Sandbox interface {
	Initialize(ctx context.Context) error
	// Run reports guest, policy, timeout and host failures in the result. An error
	// means the sandbox was not runnable.
	Run(ctx context.Context, code []byte) (*execution.RunResult, error)
	// Fault returns the host fault that failed the run, if any.
	Fault() error
	Dispose(ctx context.Context) error
}

// SandboxFactory creates sandboxes.
type SandboxFactory interface {
	NewSandbox(spec RunSpec) Sandbox
}
