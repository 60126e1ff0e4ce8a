package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Discord implements Platform over a discordgo session
type Discord struct {
	session *discordgo.Session
}

// NewDiscord wraps an opened session
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

// MapErr folds discordgo REST failures into the platform sentinels. Other
// errors pass through unchanged.
func MapErr(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage,
			discordgo.ErrCodeUnknownRole, discordgo.ErrCodeUnknownGuild, discordgo.ErrCodeUnknownMember:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return err
}

// AllowedMentions limits who a message pings to its explicit mention lists.
// Everything else, @everyone included, stays silent.
func AllowedMentions(msg *Message) *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{},
		Roles: msg.MentionRoles,
		Users: msg.MentionUsers,
	}
}

func toChannel(c *discordgo.Channel) *Channel {
	kind := KindText
	if c.Type == discordgo.ChannelTypeGuildCategory {
		kind = KindCategory
	}
	return &Channel{ID: c.ID, GuildID: c.GuildID, Name: c.Name, ParentID: c.ParentID, Kind: kind}
}

func (d *Discord) SelfID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

func (d *Discord) GuildExists(ctx context.Context, guildID string) (bool, error) {
	if _, err := d.session.State.Guild(guildID); err == nil {
		return true, nil
	}
	_, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err = MapErr(err); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Discord) Channel(ctx context.Context, channelID string) (*Channel, error) {
	c, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, MapErr(err)
	}
	return toChannel(c), nil
}

func (d *Discord) GuildChannels(ctx context.Context, guildID string) ([]*Channel, error) {
	channels, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, MapErr(err)
	}
	out := make([]*Channel, 0, len(channels))
	for _, c := range channels {
		if c.Type != discordgo.ChannelTypeGuildText && c.Type != discordgo.ChannelTypeGuildCategory {
			continue
		}
		out = append(out, toChannel(c))
	}
	return out, nil
}

func (d *Discord) CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (*Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:     spec.Name,
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    spec.Topic,
		ParentID: spec.ParentID,
	}
	if spec.Kind == KindCategory {
		data.Type = discordgo.ChannelTypeGuildCategory
	}
	if spec.PrivateToRole != "" {
		visible := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory)
		data.PermissionOverwrites = []*discordgo.PermissionOverwrite{
			// @everyone shares the guild's id
			{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
			{ID: spec.PrivateToRole, Type: discordgo.PermissionOverwriteTypeRole, Allow: visible},
		}
		if self := d.SelfID(); self != "" {
			data.PermissionOverwrites = append(data.PermissionOverwrites,
				&discordgo.PermissionOverwrite{ID: self, Type: discordgo.PermissionOverwriteTypeMember, Allow: visible})
		}
	}

	c, err := d.session.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return nil, MapErr(err)
	}
	return toChannel(c), nil
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := d.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return MapErr(err)
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, msg *Message) (string, error) {
	send := &discordgo.MessageSend{
		Content:    msg.Content,
		Components:      msg.Components,
		AllowedMentions: AllowedMentions(msg),
	}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{msg.Embed}
	}
	m, err := d.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", MapErr(err)
	}
	return m.ID, nil
}

func (d *Discord) EditMessage(ctx context.Context, channelID, messageID string, msg *Message) error {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	if msg.Content != "" {
		edit.SetContent(msg.Content)
	}
	if msg.Embed != nil {
		edit.SetEmbeds([]*discordgo.MessageEmbed{msg.Embed})
	}
	if msg.Components != nil {
		components := msg.Components
		edit.Components = &components
	}
	_, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return MapErr(err)
}

func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) error {
	_, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	return MapErr(err)
}

func (d *Discord) PinMessage(ctx context.Context, channelID, messageID string) error {
	return MapErr(d.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)))
}

func (d *Discord) Role(ctx context.Context, guildID, roleID string) (*Role, error) {
	if r, err := d.session.State.Role(guildID, roleID); err == nil {
		return &Role{ID: r.ID, GuildID: guildID, Name: r.Name, Color: r.Color}, nil
	}
	roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, MapErr(err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return &Role{ID: r.ID, GuildID: guildID, Name: r.Name, Color: r.Color}, nil
		}
	}
	return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
}

func (d *Discord) GuildRoles(ctx context.Context, guildID string) ([]*Role, error) {
	roles, err := d.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, MapErr(err)
	}
	out := make([]*Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, &Role{ID: r.ID, GuildID: guildID, Name: r.Name, Color: r.Color})
	}
	return out, nil
}

func (d *Discord) CreateRole(ctx context.Context, guildID, name string, color int) (*Role, error) {
	mentionable := true
	r, err := d.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        name,
		Color:       &color,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, MapErr(err)
	}
	return &Role{ID: r.ID, GuildID: guildID, Name: r.Name, Color: r.Color}, nil
}

func (d *Discord) DeleteRole(ctx context.Context, guildID, roleID string) error {
	return MapErr(d.session.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return MapErr(d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

func (d *Discord) RemoveMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	return MapErr(d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

// RoleMembers pages through the guild member list. Requires the guild
// members intent.
func (d *Discord) RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error) {
	var (
		ids   []string
		after string
	)
	for {
		members, err := d.session.GuildMembers(guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return nil, MapErr(err)
		}
		for _, m := range members {
			for _, r := range m.Roles {
				if r == roleID {
					ids = append(ids, m.User.ID)
					break
				}
			}
		}
		if len(members) < 1000 {
			return ids, nil
		}
		after = members[len(members)-1].User.ID
	}
}

func (d *Discord) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	return MapErr(d.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)))
}

func (d *Discord) Reactors(ctx context.Context, channelID, messageID, emoji string) ([]string, error) {
	var (
		ids   []string
		after string
	)
	for {
		users, err := d.session.MessageReactions(channelID, messageID, emoji, 100, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, MapErr(err)
		}
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		if len(users) < 100 {
			return ids, nil
		}
		after = users[len(users)-1].ID
	}
}
