// Package audit records administrative actions: one row in faction_logs per
// event, mirrored as embeds into the guild's log channels.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// FactionLogChannel is the per-guild channel faction events are posted to
const FactionLogChannel = "faction-logs"

// Action names written to the log
const (
	ActionSetup          = "Panel Setup"
	ActionFlagAssigned   = "Flag Assigned"
	ActionFlagReleased   = "Flag Released"
	ActionFlagReassigned = "Flag Reassigned"
	ActionMapReset       = "Map Reset"
	ActionFactionCreated = "Faction Created"
	ActionFactionDeleted = "Faction Deleted"
	ActionFactionSynced  = "Faction Synced"
	ActionClaimsSynced   = "Claims Synced"
	ActionMemberAdded    = "Member Added"
	ActionMemberRemoved  = "Member Removed"
	ActionActivityCheck  = "Activity Check"
	ActionError          = "Command Failed"
)

var actionColors = map[string]int{
	ActionFlagAssigned:   0xE74C3C,
	ActionFlagReleased:   0x2ECC71,
	ActionFlagReassigned: 0xF1C40F,
	ActionMapReset:       0x95A5A6,
	ActionFactionCreated: 0x3498DB,
	ActionFactionDeleted: 0x992D22,
	ActionError:          0x7F8C8D,
}

// Entry is one audited event. Map routes it to the map's flag-log channel,
// Faction to the guild's faction-logs channel.
type Entry struct {
	GuildID string
	Map     string
	Action  string
	Faction string
	UserID  string
	Details string
}

// Store is the persistence the logger needs
type Store interface {
	AppendLog(ctx context.Context, e *storage.LogEntry) error
	GetPanel(ctx context.Context, guildID, mapKey string) (*storage.Panel, error)
}

// Logger writes audit entries
type Logger struct {
	store    Store
	platform platform.Platform
	now      func() time.Time
}

// New creates a Logger. platform may be nil, in which case entries are only
// persisted.
func New(store Store, p platform.Platform) *Logger {
	return &Logger{store: store, platform: p, now: time.Now}
}

// Log persists the entry and posts it to the relevant channels. Only the
// persistence error is returned; channel posts are best effort.
func (l *Logger) Log(ctx context.Context, e Entry) error {
	err := l.store.AppendLog(ctx, &storage.LogEntry{
		GuildID:     e.GuildID,
		Action:      e.Action,
		FactionName: e.Faction,
		UserID:      e.UserID,
		Details:     e.Details,
	})
	if err != nil {
		slog.Error("Failed to append audit log", "guildID", e.GuildID, "action", e.Action, "error", err)
	}

	if l.platform == nil {
		return err
	}

	embed := l.embed(e)
	if e.Map != "" {
		l.postMap(ctx, e, embed)
	}
	if e.Faction != "" {
		l.postFaction(ctx, e, embed)
	}
	return err
}

func (l *Logger) embed(e Entry) *discordgo.MessageEmbed {
	color, ok := actionColors[e.Action]
	if !ok {
		color = 0x5865F2
	}
	embed := &discordgo.MessageEmbed{
		Title:       e.Action,
		Description: e.Details,
		Color:       color,
		Timestamp:   l.now().UTC().Format(time.RFC3339),
	}
	if e.Faction != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Faction", Value: e.Faction, Inline: true})
	}
	if e.Map != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Map", Value: e.Map, Inline: true})
	}
	if e.UserID != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "By", Value: platform.UserMention(e.UserID), Inline: true})
	}
	return embed
}

func (l *Logger) postMap(ctx context.Context, e Entry, embed *discordgo.MessageEmbed) {
	panel, err := l.store.GetPanel(ctx, e.GuildID, e.Map)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Failed to resolve flag log channel", "guildID", e.GuildID, "map", e.Map, "error", err)
		}
		return
	}
	if panel.LogChannelID == "" {
		return
	}
	if _, err := l.platform.SendMessage(ctx, panel.LogChannelID, &platform.Message{Embed: embed}); err != nil {
		slog.Warn("Failed to post flag log", "guildID", e.GuildID, "map", e.Map, "error", err)
	}
}

func (l *Logger) postFaction(ctx context.Context, e Entry, embed *discordgo.MessageEmbed) {
	ch, err := platform.EnsureChannel(ctx, l.platform, e.GuildID, platform.ChannelSpec{
		Name:  FactionLogChannel,
		Topic: "Faction activity log",
	})
	if err != nil {
		slog.Warn("Failed to resolve faction log channel", "guildID", e.GuildID, "error", err)
		return
	}
	if _, err := l.platform.SendMessage(ctx, ch.ID, &platform.Message{Embed: embed}); err != nil {
		slog.Warn("Failed to post faction log", "guildID", e.GuildID, "error", err)
	}
}
