// Package serialize copies live platform objects into plain data that may cross the
// sandbox boundary. Every function is pure: no live handles, no private fields, no
// shared slices or maps.
package serialize

import "time"

// Guild is the guest view of a guild.
type Guild struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IconURL     string    `json:"icon_url,omitempty"`
	OwnerID     string    `json:"owner_id"`
	MemberCount int       `json:"member_count"`
	PremiumTier int       `json:"premium_tier"`
	Features    []string  `json:"features,omitempty"`
	Roles       []Role    `json:"roles,omitempty"`
	Channels    []Channel `json:"channels,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role is the guest view of a role.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Position    int    `json:"position"`
	Hoist       bool   `json:"hoist"`
	Managed     bool   `json:"managed"`
	Mentionable bool   `json:"mentionable"`
}

// Channel is the guest view of a channel.
type Channel struct {
	ID               string `json:"id"`
	GuildID          string `json:"guild_id,omitempty"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Topic            string `json:"topic,omitempty"`
	NSFW             bool   `json:"nsfw"`
	ParentID         string `json:"parent_id,omitempty"`
	Position         int    `json:"position"`
	RateLimitPerUser int    `json:"rate_limit_per_user"`
}

// User is the guest view of a user.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	GlobalName    string    `json:"global_name,omitempty"`
	Discriminator string    `json:"discriminator,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	Bot           bool      `json:"bot"`
	CreatedAt     time.Time `json:"created_at"`
}

// Member is the guest view of a guild member.
type Member struct {
	User                       *User      `json:"user,omitempty"`
	GuildID                    string     `json:"guild_id"`
	Nickname                   string     `json:"nickname,omitempty"`
	DisplayName                string     `json:"display_name"`
	RoleIDs                    []string   `json:"role_ids"`
	JoinedAt                   time.Time  `json:"joined_at"`
	Pending                    bool       `json:"pending"`
	CommunicationDisabledUntil *time.Time `json:"communication_disabled_until,omitempty"`
}

// EmbedFooter is the guest view of an embed footer.
type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedAuthor is the guest view of an embed author.
type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedMedia is the guest view of an embed image or thumbnail.
type EmbedMedia struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// EmbedField is the guest view of an embed field.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Embed is the guest view of an embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   *time.Time   `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Attachment is the guest view of a message attachment.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int    `json:"size"`
}

// Message is the guest view of a message.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	GuildID     string       `json:"guild_id,omitempty"`
	Author      *User        `json:"author,omitempty"`
	Member      *Member      `json:"member,omitempty"`
	Content     string       `json:"content"`
	Embeds      []Embed      `json:"embeds,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	MentionIDs  []string     `json:"mention_ids,omitempty"`
	Pinned      bool         `json:"pinned"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
}

// Interaction is the guest view of an interaction. The reply token stays host-side.
type Interaction struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	CommandName string         `json:"command_name,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
	GuildID     string         `json:"guild_id,omitempty"`
	ChannelID   string         `json:"channel_id,omitempty"`
	Member      *Member        `json:"member,omitempty"`
	User        *User          `json:"user,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Occurrence is the guest view of the triggering event.
type Occurrence struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	TenantID string         `json:"tenant_id"`
	At       time.Time      `json:"at"`
	Payload  map[string]any `json:"payload,omitempty"`
}
