package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/platform"
)

// Effect is one platform action a dry run would have performed.
type Effect struct {
	Op      string         `json:"op" yaml:"op"`
	GuildID string         `json:"guild_id,omitempty" yaml:"guild_id,omitempty"`
	Target  string         `json:"target,omitempty" yaml:"target,omitempty"`
	Detail  map[string]any `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// DryRunPlatform answers reads from known guilds and records every effect
// instead of calling the chat platform.
type DryRunPlatform struct {
	mu      sync.Mutex
	guilds  map[string]*platform.Guild
	effects []Effect
	nextID  int
	logger  *slog.Logger
}

// NewDryRunPlatform creates a recorder serving the given guilds.
func NewDryRunPlatform(logger *slog.Logger, guilds ...*platform.Guild) *DryRunPlatform {
	if logger == nil {
		logger = slog.Default()
	}
	p := &DryRunPlatform{guilds: make(map[string]*platform.Guild), logger: logger}
	for _, g := range guilds {
		p.guilds[g.ID] = g
	}
	return p
}

// AddGuild makes a guild known.
func (p *DryRunPlatform) AddGuild(g *platform.Guild) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guilds[g.ID] = g
}

// Effects returns the recorded effects in order.
func (p *DryRunPlatform) Effects() []Effect {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Effect(nil), p.effects...)
}

func (p *DryRunPlatform) record(ctx context.Context, e Effect) {
	p.mu.Lock()
	p.effects = append(p.effects, e)
	p.mu.Unlock()
	p.logger.InfoContext(ctx, "dry-run platform effect", "op", e.Op, "guild", e.GuildID, "target", e.Target)
}

// GetGuild returns a known guild.
func (p *DryRunPlatform) GetGuild(_ context.Context, guildID string) (*platform.Guild, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("unknown guild %s", guildID)
	}
	return g, nil
}

func (p *DryRunPlatform) guildOf(channelID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range p.guilds {
		for _, c := range g.Channels {
			if c.ID == channelID {
				return g.ID
			}
		}
	}
	return ""
}

func messageDetail(msg platform.OutgoingMessage) map[string]any {
	d := map[string]any{"content": msg.Content}
	if len(msg.Embeds) > 0 {
		d["embeds"] = len(msg.Embeds)
	}
	if msg.ReplyToID != "" {
		d["reply_to"] = msg.ReplyToID
	}
	if msg.Ephemeral {
		d["ephemeral"] = true
	}
	return d
}

// SendMessage records the message and returns a synthetic id.
func (p *DryRunPlatform) SendMessage(ctx context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	p.mu.Lock()
	p.nextID++
	id := "dry-" + strconv.Itoa(p.nextID)
	p.mu.Unlock()
	detail := messageDetail(msg)
	detail["message_id"] = id
	p.record(ctx, Effect{Op: "send_message", GuildID: p.guildOf(channelID), Target: channelID, Detail: detail})
	return id, nil
}

// EditMessage records the edit.
func (p *DryRunPlatform) EditMessage(ctx context.Context, channelID, messageID string, msg platform.OutgoingMessage) error {
	detail := messageDetail(msg)
	detail["message_id"] = messageID
	p.record(ctx, Effect{Op: "edit_message", GuildID: p.guildOf(channelID), Target: channelID, Detail: detail})
	return nil
}

// DeleteMessage records the deletion.
func (p *DryRunPlatform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	p.record(ctx, Effect{Op: "delete_message", GuildID: p.guildOf(channelID), Target: channelID,
		Detail: map[string]any{"message_id": messageID}})
	return nil
}

// AddRole records the role grant.
func (p *DryRunPlatform) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	p.record(ctx, Effect{Op: "add_role", GuildID: guildID, Target: userID,
		Detail: map[string]any{"role_id": roleID, "reason": reason}})
	return nil
}

// RemoveRole records the role removal.
func (p *DryRunPlatform) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	p.record(ctx, Effect{Op: "remove_role", GuildID: guildID, Target: userID,
		Detail: map[string]any{"role_id": roleID, "reason": reason}})
	return nil
}

// KickMember records the kick.
func (p *DryRunPlatform) KickMember(ctx context.Context, guildID, userID, reason string) error {
	p.record(ctx, Effect{Op: "kick", GuildID: guildID, Target: userID, Detail: map[string]any{"reason": reason}})
	return nil
}

// BanMember records the ban.
func (p *DryRunPlatform) BanMember(ctx context.Context, guildID, userID, reason string, deleteMessageDays int) error {
	p.record(ctx, Effect{Op: "ban", GuildID: guildID, Target: userID,
		Detail: map[string]any{"reason": reason, "delete_message_days": deleteMessageDays}})
	return nil
}

// TimeoutMember records the timeout.
func (p *DryRunPlatform) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	p.record(ctx, Effect{Op: "timeout", GuildID: guildID, Target: userID,
		Detail: map[string]any{"until": until.UTC().Format(time.RFC3339), "reason": reason}})
	return nil
}

// SetChannelTopic records the topic change.
func (p *DryRunPlatform) SetChannelTopic(ctx context.Context, channelID, topic string) error {
	p.record(ctx, Effect{Op: "set_topic", GuildID: p.guildOf(channelID), Target: channelID,
		Detail: map[string]any{"topic": topic}})
	return nil
}

// SetChannelSlowmode records the slowmode change.
func (p *DryRunPlatform) SetChannelSlowmode(ctx context.Context, channelID string, seconds int) error {
	p.record(ctx, Effect{Op: "set_slowmode", GuildID: p.guildOf(channelID), Target: channelID,
		Detail: map[string]any{"seconds": seconds}})
	return nil
}

// ReplyInteraction records the reply. The token is never recorded.
func (p *DryRunPlatform) ReplyInteraction(ctx context.Context, interactionID, _ string, msg platform.OutgoingMessage) error {
	p.record(ctx, Effect{Op: "interaction_reply", Target: interactionID, Detail: messageDetail(msg)})
	return nil
}

// DeferInteraction records the deferral.
func (p *DryRunPlatform) DeferInteraction(ctx context.Context, interactionID, _ string, ephemeral bool) error {
	p.record(ctx, Effect{Op: "interaction_defer", Target: interactionID, Detail: map[string]any{"ephemeral": ephemeral}})
	return nil
}

// DryRunGameServers serves fixed statuses and echoes commands.
type DryRunGameServers struct {
	mu       sync.Mutex
	statuses map[string]ports.GameServerStatus
	commands []string
}

// NewDryRunGameServers creates a controller. Keys of statuses are "tenant/server".
func NewDryRunGameServers(statuses map[string]ports.GameServerStatus) *DryRunGameServers {
	if statuses == nil {
		statuses = map[string]ports.GameServerStatus{}
	}
	return &DryRunGameServers{statuses: statuses}
}

// Status returns the configured status, or offline for unknown servers.
func (g *DryRunGameServers) Status(_ context.Context, tenantID, serverID string) (*ports.GameServerStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.statuses[tenantID+"/"+serverID]
	if !ok {
		return &ports.GameServerStatus{Name: serverID}, nil
	}
	return &st, nil
}

// Command records the command and echoes it.
func (g *DryRunGameServers) Command(_ context.Context, tenantID, serverID, command string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands = append(g.commands, tenantID+"/"+serverID+": "+command)
	return "dry-run: " + command, nil
}

// Commands returns the recorded commands.
func (g *DryRunGameServers) Commands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.commands...)
}
