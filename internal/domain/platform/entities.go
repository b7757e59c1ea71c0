// Package platform holds the chat platform's live object model as the host sees it.
//
// These objects may carry live client handles and private fields. They never cross the
// sandbox boundary directly; the serialize package copies the documented subset into
// plain data first.
package platform

import "time"

// ChannelType classifies a channel.
type ChannelType string

// Channel types exposed to extensions.
const (
	ChannelText         ChannelType = "text"
	ChannelVoice        ChannelType = "voice"
	ChannelCategory     ChannelType = "category"
	ChannelAnnouncement ChannelType = "announcement"
	ChannelThread       ChannelType = "thread"
	ChannelForum        ChannelType = "forum"
)

// Guild is a tenant's server.
type Guild struct {
	ID          string
	Name        string
	IconURL     string
	OwnerID     string
	MemberCount int
	PremiumTier int
	Features    []string
	Roles       []*Role
	Channels    []*Channel
	CreatedAt   time.Time

	// Client is the live platform handle the object was fetched with.
	Client any
}

// Role is a guild role.
type Role struct {
	ID          string
	Name        string
	Color       int
	Position    int
	Hoist       bool
	Managed     bool
	Mentionable bool
	Permissions int64
}

// Channel is a guild channel.
type Channel struct {
	ID               string
	GuildID          string
	Name             string
	Type             ChannelType
	Topic            string
	NSFW             bool
	ParentID         string
	Position         int
	RateLimitPerUser int
	PermissionBits   int64

	Client any
}

// User is a platform account.
type User struct {
	ID            string
	Username      string
	GlobalName    string
	Discriminator string
	AvatarURL     string
	Bot           bool
	CreatedAt     time.Time

	// Email and Locale are visible to the bot but never to extensions.
	Email  string
	Locale string

	Client any
}

// Member is a user's membership in a guild.
type Member struct {
	User                       *User
	GuildID                    string
	Nickname                   string
	RoleIDs                    []string
	JoinedAt                   time.Time
	Pending                    bool
	CommunicationDisabledUntil *time.Time
	Permissions                int64

	Client any
}

// EmbedFooter is the footer block of an embed.
type EmbedFooter struct {
	Text    string
	IconURL string
}

// EmbedAuthor is the author block of an embed.
type EmbedAuthor struct {
	Name    string
	URL     string
	IconURL string
}

// EmbedMedia is an image, thumbnail or video reference.
type EmbedMedia struct {
	URL    string
	Width  int
	Height int
	// ProxyURL points at the platform's media cache and is not exposed.
	ProxyURL string
}

// EmbedField is one name/value pair.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich message attachment.
type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	Timestamp   *time.Time
	Footer      *EmbedFooter
	Author      *EmbedAuthor
	Image       *EmbedMedia
	Thumbnail   *EmbedMedia
	Fields      []EmbedField
}

// Attachment is a file uploaded with a message.
type Attachment struct {
	ID          string
	Filename    string
	URL         string
	ContentType string
	Size        int
}

// Message is a chat message.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	Author      *User
	Member      *Member
	Content     string
	Embeds      []*Embed
	Attachments []Attachment
	MentionIDs  []string
	Pinned      bool
	CreatedAt   time.Time
	EditedAt    *time.Time

	Client any
}

// InteractionType classifies an interaction.
type InteractionType string

// Interaction types routed to extensions.
const (
	InteractionCommand      InteractionType = "command"
	InteractionComponent    InteractionType = "component"
	InteractionAutocomplete InteractionType = "autocomplete"
)

// Interaction is a slash command or component invocation.
type Interaction struct {
	ID          string
	Type        InteractionType
	CommandName string
	Options     map[string]any
	GuildID     string
	ChannelID   string
	Member      *Member
	User        *User
	CreatedAt   time.Time

	// Token authorizes replies and stays host-side.
	Token string

	Client any
}

// OutgoingMessage is the payload for sending or editing a message.
type OutgoingMessage struct {
	Content         string   `json:"content,omitempty"`
	Embeds          []Embed  `json:"embeds,omitempty"`
	ReplyToID       string   `json:"reply_to_id,omitempty"`
	AllowedMentions []string `json:"allowed_mentions,omitempty"`
	Ephemeral       bool     `json:"ephemeral,omitempty"`
}
