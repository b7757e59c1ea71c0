package serialize

import (
	"encoding/json"
	"time"

	"github.com/guildhook/guildhook/internal/domain/extension"
	"github.com/guildhook/guildhook/internal/domain/platform"
)

// SerializeGuild copies the documented guild fields, including roles and channels.
func SerializeGuild(g *platform.Guild) *Guild {
	if g == nil {
		return nil
	}
	out := &Guild{
		ID:          g.ID,
		Name:        g.Name,
		IconURL:     g.IconURL,
		OwnerID:     g.OwnerID,
		MemberCount: g.MemberCount,
		PremiumTier: g.PremiumTier,
		Features:    cloneStrings(g.Features),
		CreatedAt:   g.CreatedAt,
	}
	for _, r := range g.Roles {
		if r != nil {
			out.Roles = append(out.Roles, *SerializeRole(r))
		}
	}
	for _, c := range g.Channels {
		if c != nil {
			out.Channels = append(out.Channels, *SerializeChannel(c))
		}
	}
	return out
}

// SerializeRole copies a role. Permission bits are not exposed.
func SerializeRole(r *platform.Role) *Role {
	if r == nil {
		return nil
	}
	return &Role{
		ID:          r.ID,
		Name:        r.Name,
		Color:       r.Color,
		Position:    r.Position,
		Hoist:       r.Hoist,
		Managed:     r.Managed,
		Mentionable: r.Mentionable,
	}
}

// SerializeChannel copies a channel.
func SerializeChannel(c *platform.Channel) *Channel {
	if c == nil {
		return nil
	}
	return &Channel{
		ID:               c.ID,
		GuildID:          c.GuildID,
		Name:             c.Name,
		Type:             string(c.Type),
		Topic:            c.Topic,
		NSFW:             c.NSFW,
		ParentID:         c.ParentID,
		Position:         c.Position,
		RateLimitPerUser: c.RateLimitPerUser,
	}
}

// SerializeUser copies a user. Email and locale are never exposed.
func SerializeUser(u *platform.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:            u.ID,
		Username:      u.Username,
		GlobalName:    u.GlobalName,
		Discriminator: u.Discriminator,
		AvatarURL:     u.AvatarURL,
		Bot:           u.Bot,
		CreatedAt:     u.CreatedAt,
	}
}

// SerializeMember copies a member and its user.
func SerializeMember(m *platform.Member) *Member {
	if m == nil {
		return nil
	}
	out := &Member{
		User:                       SerializeUser(m.User),
		GuildID:                    m.GuildID,
		Nickname:                   m.Nickname,
		RoleIDs:                    cloneStrings(m.RoleIDs),
		JoinedAt:                   m.JoinedAt,
		Pending:                    m.Pending,
		CommunicationDisabledUntil: cloneTime(m.CommunicationDisabledUntil),
	}
	if out.RoleIDs == nil {
		out.RoleIDs = []string{}
	}
	switch {
	case m.Nickname != "":
		out.DisplayName = m.Nickname
	case m.User != nil && m.User.GlobalName != "":
		out.DisplayName = m.User.GlobalName
	case m.User != nil:
		out.DisplayName = m.User.Username
	}
	return out
}

// SerializeEmbed copies an embed. Media proxy URLs are dropped.
func SerializeEmbed(e *platform.Embed) *Embed {
	if e == nil {
		return nil
	}
	out := &Embed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
		Timestamp:   cloneTime(e.Timestamp),
		Image:       serializeMedia(e.Image),
		Thumbnail:   serializeMedia(e.Thumbnail),
	}
	if e.Footer != nil {
		out.Footer = &EmbedFooter{Text: e.Footer.Text, IconURL: e.Footer.IconURL}
	}
	if e.Author != nil {
		out.Author = &EmbedAuthor{Name: e.Author.Name, URL: e.Author.URL, IconURL: e.Author.IconURL}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return out
}

func serializeMedia(m *platform.EmbedMedia) *EmbedMedia {
	if m == nil {
		return nil
	}
	return &EmbedMedia{URL: m.URL, Width: m.Width, Height: m.Height}
}

// SerializeMessage copies a message with its author, member, embeds and attachments.
func SerializeMessage(m *platform.Message) *Message {
	if m == nil {
		return nil
	}
	out := &Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		Author:     SerializeUser(m.Author),
		Member:     SerializeMember(m.Member),
		Content:    m.Content,
		MentionIDs: cloneStrings(m.MentionIDs),
		Pinned:     m.Pinned,
		CreatedAt:  m.CreatedAt,
		EditedAt:   cloneTime(m.EditedAt),
	}
	for _, e := range m.Embeds {
		if e != nil {
			out.Embeds = append(out.Embeds, *SerializeEmbed(e))
		}
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return out
}

// SerializeInteraction copies an interaction without its reply token.
func SerializeInteraction(i *platform.Interaction) *Interaction {
	if i == nil {
		return nil
	}
	return &Interaction{
		ID:          i.ID,
		Type:        string(i.Type),
		CommandName: i.CommandName,
		Options:     ClonePlain(i.Options),
		GuildID:     i.GuildID,
		ChannelID:   i.ChannelID,
		Member:      SerializeMember(i.Member),
		User:        SerializeUser(i.User),
		CreatedAt:   i.CreatedAt,
	}
}

// SerializeOccurrence copies the occurrence header and its plain payload.
// The platform objects it references are serialized separately.
func SerializeOccurrence(o *extension.Occurrence) *Occurrence {
	if o == nil {
		return nil
	}
	return &Occurrence{
		ID:       o.ID,
		Kind:     string(o.Kind),
		Name:     o.Name,
		TenantID: o.TenantID,
		At:       o.At,
		Payload:  ClonePlain(o.Payload),
	}
}

// ClonePlain deep-copies a JSON-like map. Values that are not plain data
// (functions, channels, pointers to host structs) are dropped.
func ClonePlain(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if c, ok := clonePlainValue(v); ok {
			out[k] = c
		}
	}
	return out
}

func clonePlainValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return t, true
	case time.Time, json.Number:
		return t, true
	case map[string]any:
		return ClonePlain(t), true
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if c, ok := clonePlainValue(e); ok {
				out = append(out, c)
			}
		}
		return out, true
	case []string:
		return cloneStrings(t), true
	default:
		return nil, false
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
