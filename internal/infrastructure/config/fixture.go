package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"github.com/guildhook/guildhook/internal/domain/capabilities"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/domain/platform"
)

// Fixture describes a tenant and one occurrence for running an extension locally.
type Fixture struct {
	Tenant           TenantFixture       `yaml:"tenant"`
	InstallationSpec InstallationFixture `yaml:"installation"`
	OccurrenceSpec   OccurrenceFixture   `yaml:"occurrence"`
	// Store seeds the extension's key/value store.
	Store map[string]any `yaml:"store"`
	// Points seeds ledger balances by user id.
	Points map[string]int64 `yaml:"points"`
}

// TenantFixture is the guild and its settings document.
type TenantFixture struct {
	ID       string           `yaml:"id"`
	Name     string           `yaml:"name"`
	OwnerID  string           `yaml:"owner_id"`
	Settings map[string]any   `yaml:"settings"`
	Roles    []RoleFixture    `yaml:"roles"`
	Channels []ChannelFixture `yaml:"channels"`
}

// RoleFixture is one guild role.
type RoleFixture struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Position int    `yaml:"position"`
	Managed  bool   `yaml:"managed"`
}

// ChannelFixture is one guild channel.
type ChannelFixture struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Topic string `yaml:"topic"`
}

// InstallationFixture grants scopes and config for the run.
type InstallationFixture struct {
	Version         string         `yaml:"version"`
	Scopes          []string       `yaml:"scopes"`
	Config          map[string]any `yaml:"config"`
	NetworkApproved bool           `yaml:"network_approved"`
	// Disabled installations are still run by the local runner but not by serve.
	Disabled bool `yaml:"disabled"`
}

// UserFixture is a platform account.
type UserFixture struct {
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Bot      bool   `yaml:"bot"`
}

// MessageFixture is the message an event carries.
type MessageFixture struct {
	ID      string `yaml:"id"`
	Content string `yaml:"content"`
}

// InteractionFixture is the slash command a command occurrence carries.
type InteractionFixture struct {
	ID      string         `yaml:"id"`
	Command string         `yaml:"command"`
	Options map[string]any `yaml:"options"`
	Token   string         `yaml:"token"`
}

// OccurrenceFixture is the event, command or timer tick being handled.
type OccurrenceFixture struct {
	Kind        string              `yaml:"kind"`
	Name        string              `yaml:"name"`
	ChannelID   string              `yaml:"channel"`
	User        *UserFixture        `yaml:"user"`
	Nickname    string              `yaml:"nickname"`
	RoleIDs     []string            `yaml:"member_roles"`
	Message     *MessageFixture     `yaml:"message"`
	Interaction *InteractionFixture `yaml:"interaction"`
	Payload     map[string]any      `yaml:"payload"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	//nolint:gosec // G304: operator-provided fixture path
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return LoadFixtureFromReader(f)
}

// LoadFixtureFromReader decodes and checks a fixture.
func LoadFixtureFromReader(r io.Reader) (*Fixture, error) {
	var fx Fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return nil, fmt.Errorf("failed to decode fixture YAML: %w", err)
	}
	if fx.Tenant.ID == "" {
		return nil, fmt.Errorf("fixture: tenant.id is required")
	}
	if fx.OccurrenceSpec.Kind == "" {
		fx.OccurrenceSpec.Kind = string(extension.OccurrenceEvent)
	}
	switch extension.OccurrenceKind(fx.OccurrenceSpec.Kind) {
	case extension.OccurrenceEvent, extension.OccurrenceCommand, extension.OccurrenceTimer:
	default:
		return nil, fmt.Errorf("fixture: unknown occurrence kind %q", fx.OccurrenceSpec.Kind)
	}
	return &fx, nil
}

// Guild builds the platform guild the fixture describes.
func (fx *Fixture) Guild() *platform.Guild {
	g := &platform.Guild{
		ID:      fx.Tenant.ID,
		Name:    fx.Tenant.Name,
		OwnerID: fx.Tenant.OwnerID,
	}
	for _, r := range fx.Tenant.Roles {
		g.Roles = append(g.Roles, &platform.Role{ID: r.ID, Name: r.Name, Position: r.Position, Managed: r.Managed})
	}
	for _, c := range fx.Tenant.Channels {
		typ := platform.ChannelType(c.Type)
		if typ == "" {
			typ = platform.ChannelText
		}
		g.Channels = append(g.Channels, &platform.Channel{ID: c.ID, GuildID: g.ID, Name: c.Name, Type: typ, Topic: c.Topic})
	}
	return g
}

// Installation builds the installation for extensionID.
func (fx *Fixture) Installation(extensionID string) *extension.Installation {
	now := time.Now().UTC()
	return &extension.Installation{
		ExtensionID:     extensionID,
		TenantID:        fx.Tenant.ID,
		Version:         fx.InstallationSpec.Version,
		GrantedScopes:   capabilities.ParseSet(fx.InstallationSpec.Scopes),
		Config:          fx.InstallationSpec.Config,
		Enabled:         !fx.InstallationSpec.Disabled,
		NetworkApproved: fx.InstallationSpec.NetworkApproved,
		InstalledAt:     now,
		UpdatedAt:       now,
	}
}

// Occurrence builds the occurrence against guild.
func (fx *Fixture) Occurrence(guild *platform.Guild) *extension.Occurrence {
	o := fx.OccurrenceSpec
	occ := &extension.Occurrence{
		ID:       uuid.NewString(),
		Kind:     extension.OccurrenceKind(o.Kind),
		Name:     o.Name,
		TenantID: guild.ID,
		At:       time.Now().UTC(),
		Guild:    guild,
		Payload:  o.Payload,
	}

	for _, c := range guild.Channels {
		if c.ID == o.ChannelID {
			occ.Channel = c
		}
	}
	if occ.Channel == nil && o.ChannelID != "" {
		occ.Channel = &platform.Channel{ID: o.ChannelID, GuildID: guild.ID, Type: platform.ChannelText}
	}

	if o.User != nil {
		occ.User = &platform.User{ID: o.User.ID, Username: o.User.Username, Bot: o.User.Bot}
		occ.Member = &platform.Member{User: occ.User, GuildID: guild.ID, Nickname: o.Nickname, RoleIDs: o.RoleIDs}
	}

	if o.Message != nil {
		occ.Message = &platform.Message{
			ID: o.Message.ID, ChannelID: o.ChannelID, GuildID: guild.ID,
			Author: occ.User, Member: occ.Member, Content: o.Message.Content, CreatedAt: occ.At,
		}
	}

	if o.Interaction != nil {
		name := o.Interaction.Command
		if name == "" {
			name = o.Name
		}
		occ.Interaction = &platform.Interaction{
			ID: o.Interaction.ID, Type: platform.InteractionCommand, CommandName: name,
			Options: o.Interaction.Options, GuildID: guild.ID, ChannelID: o.ChannelID,
			Member: occ.Member, User: occ.User, Token: o.Interaction.Token, CreatedAt: occ.At,
		}
	}
	return occ
}
