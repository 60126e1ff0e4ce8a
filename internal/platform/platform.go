// Package platform is the boundary to the chat platform. Everything the
// system does to guilds, channels, roles and messages goes through Platform.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"
)

var (
	ErrNotFound    = errors.New("platform: not found")
	ErrForbidden   = errors.New("platform: permission denied")
	ErrRateLimited = errors.New("platform: rate limited")
)

// ChannelKind distinguishes text channels from categories
type ChannelKind int

const (
	KindText ChannelKind = iota
	KindCategory
)

// Channel is a guild channel
type Channel struct {
	ID       string
	GuildID  string
	Name     string
	ParentID string
	Kind     ChannelKind
}

// ChannelSpec describes a channel to create
type ChannelSpec struct {
	Name     string
	Kind     ChannelKind
	ParentID string
	Topic    string
	// PrivateToRole hides the channel from everyone except this role.
	PrivateToRole string
}

// Role is a guild role
type Role struct {
	ID      string
	GuildID string
	Name    string
	Color   int
}

// Message is an outgoing message payload. Mentions in Content only notify
// the roles and users listed in MentionRoles and MentionUsers.
type Message struct {
	Content    string
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent

	MentionRoles []string
	MentionUsers []string
}

// Platform defines the operations the system needs from the chat platform.
// Implementations map missing objects to ErrNotFound and missing permissions
// to ErrForbidden.
type Platform interface {
	// SelfID returns the bot's own user id
	SelfID() string

	// GuildExists reports whether the bot can see the guild
	GuildExists(ctx context.Context, guildID string) (bool, error)

	Channel(ctx context.Context, channelID string) (*Channel, error)
	GuildChannels(ctx context.Context, guildID string) ([]*Channel, error)
	CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (*Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error

	// SendMessage posts a message and returns its id
	SendMessage(ctx context.Context, channelID string, msg *Message) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg *Message) error
	// FetchMessage returns nil if the message exists
	FetchMessage(ctx context.Context, channelID, messageID string) error
	PinMessage(ctx context.Context, channelID, messageID string) error

	Role(ctx context.Context, guildID, roleID string) (*Role, error)
	GuildRoles(ctx context.Context, guildID string) ([]*Role, error)
	CreateRole(ctx context.Context, guildID, name string, color int) (*Role, error)
	DeleteRole(ctx context.Context, guildID, roleID string) error
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error
	// RoleMembers lists the ids of users currently holding the role
	RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error)

	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	// Reactors lists the ids of users who reacted with emoji
	Reactors(ctx context.Context, channelID, messageID, emoji string) ([]string, error)
}

// FindChannel returns the first channel in the guild with the given name and
// kind, or ErrNotFound.
func FindChannel(ctx context.Context, p Platform, guildID, name string, kind ChannelKind) (*Channel, error) {
	channels, err := p.GuildChannels(ctx, guildID)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if ch.Kind == kind && strings.EqualFold(ch.Name, name) {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("%w: channel %q", ErrNotFound, name)
}

// EnsureChannel finds a channel by name or creates it from spec
func EnsureChannel(ctx context.Context, p Platform, guildID string, spec ChannelSpec) (*Channel, error) {
	ch, err := FindChannel(ctx, p, guildID, spec.Name, spec.Kind)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return p.CreateChannel(ctx, guildID, spec)
}

// ValidID reports whether s is a well-formed snowflake
func ValidID(s string) bool {
	id, err := snowflake.ParseString(s)
	return err == nil && id > 0
}

// RoleMention formats a role mention
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

// UserMention formats a user mention
func UserMention(userID string) string {
	return "<@" + userID + ">"
}

// ChannelMention formats a channel mention
func ChannelMention(channelID string) string {
	return "<#" + channelID + ">"
}
