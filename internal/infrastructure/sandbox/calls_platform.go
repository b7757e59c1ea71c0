package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/platform"
)

// Platform request limits.
const (
	MaxContentRunes    = 2000
	MaxEmbeds          = 10
	MaxTopicRunes      = 1024
	MaxSlowmodeSeconds = 21600
	MaxTimeout         = 28 * 24 * time.Hour
	MaxReasonRunes     = 512
)

type messageRequest struct {
	ChannelID string           `json:"channel_id"`
	MessageID string           `json:"message_id"`
	Content   string           `json:"content"`
	Embeds    []platform.Embed `json:"embeds"`
	Ephemeral bool             `json:"ephemeral"`
}

func (r *messageRequest) outgoing() (platform.OutgoingMessage, error) {
	if r.Content == "" && len(r.Embeds) == 0 {
		return platform.OutgoingMessage{}, callErr(execution.CodeInvalidRequest, "content or embeds required")
	}
	if utf8.RuneCountInString(r.Content) > MaxContentRunes {
		return platform.OutgoingMessage{}, callErr(execution.CodeInvalidRequest, "content longer than %d characters", MaxContentRunes)
	}
	if len(r.Embeds) > MaxEmbeds {
		return platform.OutgoingMessage{}, callErr(execution.CodeInvalidRequest, "more than %d embeds", MaxEmbeds)
	}
	return platform.OutgoingMessage{Content: r.Content, Embeds: r.Embeds, Ephemeral: r.Ephemeral}, nil
}

type memberRequest struct {
	UserID            string `json:"user_id"`
	RoleID            string `json:"role_id"`
	Reason            string `json:"reason"`
	DeleteMessageDays int    `json:"delete_message_days"`
	DurationSeconds   int64  `json:"duration_seconds"`
}

type channelRequest struct {
	ChannelID string `json:"channel_id"`
	Topic     string `json:"topic"`
	Seconds   int    `json:"seconds"`
}

func (s *Sandbox) platform() (ports.Platform, error) {
	if s.engine.deps.Platform == nil {
		return nil, errors.New("platform client not configured")
	}
	return s.engine.deps.Platform, nil
}

// platformErr separates outages, which are host faults, from rejected requests the guest can handle.
func platformErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ports.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return callErr(CodePlatformError, "%v", err)
}

// checkChannel bounds channel ids to the tenant's guild.
func (s *Sandbox) checkChannel(id string) error {
	if id == "" {
		return callErr(execution.CodeInvalidRequest, "channel_id is required")
	}
	occ := s.cfg.Occurrence
	if occ != nil {
		if occ.Channel != nil && occ.Channel.ID == id {
			return nil
		}
		if occ.Guild != nil {
			for _, c := range occ.Guild.Channels {
				if c != nil && c.ID == id {
					return nil
				}
			}
		}
	}
	return callErr(CodeChannelNotInTenant, "channel %s is not part of this server", id)
}

func (s *Sandbox) checkRole(id string) error {
	if id == "" {
		return callErr(execution.CodeInvalidRequest, "role_id is required")
	}
	if occ := s.cfg.Occurrence; occ != nil && occ.Guild != nil {
		for _, r := range occ.Guild.Roles {
			if r != nil && r.ID == id {
				if r.Managed {
					return callErr(CodePlatformError, "role %s is managed by an integration", id)
				}
				return nil
			}
		}
	}
	return callErr(CodeRoleNotInTenant, "role %s is not part of this server", id)
}

func (s *Sandbox) guildID() (string, error) {
	if s.cfg.GuildID == "" {
		return "", callErr(CodeNoTarget, "run is not bound to a server")
	}
	return s.cfg.GuildID, nil
}

func checkMember(r *memberRequest) error {
	if r.UserID == "" {
		return callErr(execution.CodeInvalidRequest, "user_id is required")
	}
	if utf8.RuneCountInString(r.Reason) > MaxReasonRunes {
		return callErr(execution.CodeInvalidRequest, "reason longer than %d characters", MaxReasonRunes)
	}
	return nil
}

func (s *Sandbox) auditReason(reason string) string {
	if reason == "" {
		return fmt.Sprintf("extension %s", s.cfg.ExtensionID)
	}
	return fmt.Sprintf("extension %s: %s", s.cfg.ExtensionID, reason)
}

func handleMessageSend(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r messageRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := s.checkChannel(r.ChannelID); err != nil {
		return nil, err
	}
	msg, err := r.outgoing()
	if err != nil {
		return nil, err
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	id, err := p.SendMessage(ctx, r.ChannelID, msg)
	if err != nil {
		return nil, platformErr(err)
	}
	return map[string]string{"message_id": id}, nil
}

// handleMessageReply answers the message that triggered the run.
func handleMessageReply(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r messageRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	occ := s.cfg.Occurrence
	if occ == nil || occ.Message == nil {
		return nil, callErr(CodeNoTarget, "run was not triggered by a message")
	}
	msg, err := r.outgoing()
	if err != nil {
		return nil, err
	}
	msg.ReplyToID = occ.Message.ID
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	id, err := p.SendMessage(ctx, occ.Message.ChannelID, msg)
	if err != nil {
		return nil, platformErr(err)
	}
	return map[string]string{"message_id": id}, nil
}

func handleMessageEdit(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r messageRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := s.checkChannel(r.ChannelID); err != nil {
		return nil, err
	}
	if r.MessageID == "" {
		return nil, callErr(execution.CodeInvalidRequest, "message_id is required")
	}
	msg, err := r.outgoing()
	if err != nil {
		return nil, err
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	return nil, platformErr(p.EditMessage(ctx, r.ChannelID, r.MessageID, msg))
}

func handleMessageDelete(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r messageRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := s.checkChannel(r.ChannelID); err != nil {
		return nil, err
	}
	if r.MessageID == "" {
		return nil, callErr(execution.CodeInvalidRequest, "message_id is required")
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	return nil, platformErr(p.DeleteMessage(ctx, r.ChannelID, r.MessageID))
}

func handleRoleAdd(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	return changeRole(ctx, s, req, true)
}

func handleRoleRemove(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	return changeRole(ctx, s, req, false)
}

func changeRole(ctx context.Context, s *Sandbox, req []byte, add bool) (any, error) {
	var r memberRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := checkMember(&r); err != nil {
		return nil, err
	}
	if err := s.checkRole(r.RoleID); err != nil {
		return nil, err
	}
	guild, err := s.guildID()
	if err != nil {
		return nil, err
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	if add {
		return nil, platformErr(p.AddRole(ctx, guild, r.UserID, r.RoleID, s.auditReason(r.Reason)))
	}
	return nil, platformErr(p.RemoveRole(ctx, guild, r.UserID, r.RoleID, s.auditReason(r.Reason)))
}

func handleKick(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r memberRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := checkMember(&r); err != nil {
		return nil, err
	}
	guild, err := s.guildID()
	if err != nil {
		return nil, err
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	return nil, platformErr(p.KickMember(ctx, guild, r.UserID, s.auditReason(r.Reason)))
}

func handleBan(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r memberRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := checkMember(&r); err != nil {
		return nil, err
	}
	if r.DeleteMessageDays < 0 || r.DeleteMessageDays > 7 {
		return nil, callErr(execution.CodeInvalidRequest, "delete_message_days must be between 0 and 7")
	}
	guild, err := s.guildID()
	if err != nil {
		return nil, err
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	return nil, platformErr(p.BanMember(ctx, guild, r.UserID, s.auditReason(r.Reason), r.DeleteMessageDays))
}

func handleTimeout(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r memberRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := checkMember(&r); err != nil {
		return nil, err
	}
	d := time.Duration(r.DurationSeconds) * time.Second
	if d <= 0 || d > MaxTimeout {
		return nil, callErr(execution.CodeInvalidRequest, "duration_seconds must be between 1 and %d", int64(MaxTimeout/time.Second))
	}
	guild, err := s.guildID()
	if err != nil {
		return nil, err
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	until := time.Now().Add(d)
	if err := p.TimeoutMember(ctx, guild, r.UserID, until, s.auditReason(r.Reason)); err != nil {
		return nil, platformErr(err)
	}
	return map[string]string{"until": until.UTC().Format(time.RFC3339)}, nil
}

func handleSetTopic(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r channelRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := s.checkChannel(r.ChannelID); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(r.Topic) > MaxTopicRunes {
		return nil, callErr(execution.CodeInvalidRequest, "topic longer than %d characters", MaxTopicRunes)
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	return nil, platformErr(p.SetChannelTopic(ctx, r.ChannelID, r.Topic))
}

func handleSetSlowmode(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r channelRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	if err := s.checkChannel(r.ChannelID); err != nil {
		return nil, err
	}
	if r.Seconds < 0 || r.Seconds > MaxSlowmodeSeconds {
		return nil, callErr(execution.CodeInvalidRequest, "seconds must be between 0 and %d", MaxSlowmodeSeconds)
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	return nil, platformErr(p.SetChannelSlowmode(ctx, r.ChannelID, r.Seconds))
}

// interactionTarget returns the triggering interaction, whose token never leaves the host.
func (s *Sandbox) interactionTarget() (*platform.Interaction, error) {
	occ := s.cfg.Occurrence
	if occ == nil || occ.Interaction == nil || occ.Interaction.Token == "" {
		return nil, callErr(CodeNoTarget, "run was not triggered by an interaction")
	}
	return occ.Interaction, nil
}

func handleInteractionReply(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r messageRequest
	if err := decode(req, &r); err != nil {
		return nil, err
	}
	target, err := s.interactionTarget()
	if err != nil {
		return nil, err
	}
	msg, err := r.outgoing()
	if err != nil {
		return nil, err
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	return nil, platformErr(p.ReplyInteraction(ctx, target.ID, target.Token, msg))
}

func handleInteractionDefer(ctx context.Context, s *Sandbox, req []byte) (any, error) {
	var r messageRequest
	if len(req) > 0 {
		if err := decode(req, &r); err != nil {
			return nil, err
		}
	}
	target, err := s.interactionTarget()
	if err != nil {
		return nil, err
	}
	p, err := s.platform()
	if err != nil {
		return nil, err
	}
	return nil, platformErr(p.DeferInteraction(ctx, target.ID, target.Token, r.Ephemeral))
}
