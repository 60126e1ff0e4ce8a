// Package panel keeps each map's pinned flag panel consistent with the flag
// store and drives the interactive assign/release selectors hanging off it.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sasha-s/go-deadlock"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// MaxRefreshTimeout caps how long a single refresh may take
const MaxRefreshTimeout = 5 * time.Second

// Store is the persistence the materializer reads and repairs
type Store interface {
	ListFlags(ctx context.Context, guildID, mapKey string) ([]*storage.Flag, error)
	GetPanel(ctx context.Context, guildID, mapKey string) (*storage.Panel, error)
	ListPanels(ctx context.Context) ([]*storage.Panel, error)
	UpsertPanel(ctx context.Context, p *storage.Panel) error
	UpdatePanelLocation(ctx context.Context, guildID, mapKey, channelID, messageID string) error
}

// Binding ties a live panel message to its guild and map
type Binding struct {
	GuildID string
	Map     string
}

// Materializer renders panels and repairs them when their channel or message
// has gone missing
type Materializer struct {
	store    Store
	catalog  *catalog.Catalog
	platform platform.Platform
	timeout  time.Duration

	mu       deadlock.RWMutex
	bindings map[string]Binding // messageID -> panel
}

// NewMaterializer creates a Materializer. A timeout of zero or above
// MaxRefreshTimeout is clamped to MaxRefreshTimeout.
func NewMaterializer(store Store, cat *catalog.Catalog, p platform.Platform, timeout time.Duration) *Materializer {
	if timeout <= 0 || timeout > MaxRefreshTimeout {
		timeout = MaxRefreshTimeout
	}
	return &Materializer{
		store:    store,
		catalog:  cat,
		platform: p,
		timeout:  timeout,
		bindings: make(map[string]Binding),
	}
}

// ChannelName is the default panel channel for a map
func ChannelName(mapKey string) string {
	return "flags-" + mapKey
}

// Render reads the map's flags and renders its panel
func (m *Materializer) Render(ctx context.Context, guildID, mapKey string) (Payload, error) {
	info, err := m.catalog.Map(mapKey)
	if err != nil {
		return Payload{}, err
	}
	flags, err := m.store.ListFlags(ctx, guildID, mapKey)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to list flags: %w", err)
	}
	return Render(info, flags, platform.RoleMention), nil
}

func (m *Materializer) message(payload Payload, mapKey string) *platform.Message {
	return &platform.Message{Embed: payload.Embed(), Components: Controls(mapKey)}
}

// Refresh brings the live panel for (guild, map) in line with the store.
// Without a registry row there is nothing to do. A deleted channel is
// recreated and a deleted message reposted, with the registry rewritten to
// point at the replacement. Errors are logged and returned; callers treat
// them as informational.
func (m *Materializer) Refresh(ctx context.Context, guildID, mapKey string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.refresh(ctx, guildID, mapKey)
	if err != nil {
		slog.Warn("Failed to refresh flag panel", "guildID", guildID, "map", mapKey, "error", err)
	}
	return err
}

func (m *Materializer) refresh(ctx context.Context, guildID, mapKey string) error {
	row, err := m.store.GetPanel(ctx, guildID, mapKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load panel registry: %w", err)
	}

	payload, err := m.Render(ctx, guildID, mapKey)
	if err != nil {
		return err
	}
	msg := m.message(payload, mapKey)

	if _, err := m.platform.Channel(ctx, row.ChannelID); err != nil {
		if !errors.Is(err, platform.ErrNotFound) {
			return fmt.Errorf("failed to resolve panel channel: %w", err)
		}
		slog.Info("Panel channel missing, recreating", "guildID", guildID, "map", mapKey, "channelID", row.ChannelID)
		ch, err := m.platform.CreateChannel(ctx, guildID, platform.ChannelSpec{Name: ChannelName(mapKey)})
		if err != nil {
			return fmt.Errorf("failed to recreate panel channel: %w", err)
		}
		return m.repost(ctx, row, ch.ID, msg)
	}

	if err := m.platform.FetchMessage(ctx, row.ChannelID, row.MessageID); err != nil {
		if !errors.Is(err, platform.ErrNotFound) {
			return fmt.Errorf("failed to fetch panel message: %w", err)
		}
		slog.Info("Panel message missing, reposting", "guildID", guildID, "map", mapKey, "messageID", row.MessageID)
		return m.repost(ctx, row, row.ChannelID, msg)
	}

	if err := m.platform.EditMessage(ctx, row.ChannelID, row.MessageID, msg); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return m.repost(ctx, row, row.ChannelID, msg)
		}
		return fmt.Errorf("failed to edit panel message: %w", err)
	}
	m.bind(row.MessageID, guildID, mapKey)
	return nil
}

func (m *Materializer) repost(ctx context.Context, row *storage.Panel, channelID string, msg *platform.Message) error {
	id, err := m.platform.SendMessage(ctx, channelID, msg)
	if err != nil {
		return fmt.Errorf("failed to post panel message: %w", err)
	}
	if err := m.store.UpdatePanelLocation(ctx, row.GuildID, row.Map, channelID, id); err != nil {
		return fmt.Errorf("failed to update panel registry: %w", err)
	}
	m.unbind(row.MessageID)
	m.bind(id, row.GuildID, row.Map)
	return nil
}

// Publish makes channelID host the panel for (guild, map). An existing panel
// in the same channel is reconciled in place; otherwise a fresh message is
// posted and the registry row replaced.
func (m *Materializer) Publish(ctx context.Context, guildID, mapKey, channelID, logChannelID string) (*storage.Panel, error) {
	row, err := m.store.GetPanel(ctx, guildID, mapKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load panel registry: %w", err)
	}

	if row != nil && row.ChannelID == channelID {
		if row.LogChannelID != logChannelID {
			row.LogChannelID = logChannelID
			if err := m.store.UpsertPanel(ctx, row); err != nil {
				return nil, fmt.Errorf("failed to save panel registry: %w", err)
			}
		}
		if err := m.Refresh(ctx, guildID, mapKey); err != nil {
			return nil, err
		}
		return m.store.GetPanel(ctx, guildID, mapKey)
	}

	payload, err := m.Render(ctx, guildID, mapKey)
	if err != nil {
		return nil, err
	}
	id, err := m.platform.SendMessage(ctx, channelID, m.message(payload, mapKey))
	if err != nil {
		return nil, fmt.Errorf("failed to post panel message: %w", err)
	}

	next := &storage.Panel{GuildID: guildID, Map: mapKey, ChannelID: channelID, MessageID: id, LogChannelID: logChannelID}
	if err := m.store.UpsertPanel(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save panel registry: %w", err)
	}
	if row != nil {
		m.unbind(row.MessageID)
		m.retire(ctx, row, channelID)
	}
	m.bind(id, guildID, mapKey)
	return next, nil
}

// retire points a superseded panel message at its replacement and strips its
// buttons. Best effort: the old message may already be gone.
func (m *Materializer) retire(ctx context.Context, old *storage.Panel, channelID string) {
	name := old.Map
	if info, err := m.catalog.Map(old.Map); err == nil {
		name = info.Name
	}
	err := m.platform.EditMessage(ctx, old.ChannelID, old.MessageID, &platform.Message{
		Embed: &discordgo.MessageEmbed{
			Title:       fmt.Sprintf("%s Flags", name),
			Description: fmt.Sprintf("This panel has moved to %s.", platform.ChannelMention(channelID)),
		},
		Components: []discordgo.MessageComponent{},
	})
	if err != nil {
		slog.Debug("Could not retire old flag panel", "guildID", old.GuildID, "map", old.Map, "messageID", old.MessageID, "error", err)
	}
}

// Restore rebinds every registered panel whose guild, channel and message
// still exist. It returns how many were bound.
func (m *Materializer) Restore(ctx context.Context) (int, error) {
	rows, err := m.store.ListPanels(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list panels: %w", err)
	}

	bound := 0
	for _, row := range rows {
		ok, err := m.platform.GuildExists(ctx, row.GuildID)
		if err != nil || !ok {
			slog.Warn("Skipping panel for unavailable guild", "guildID", row.GuildID, "map", row.Map, "error", err)
			continue
		}
		if _, err := m.platform.Channel(ctx, row.ChannelID); err != nil {
			slog.Warn("Skipping panel with missing channel", "guildID", row.GuildID, "map", row.Map, "channelID", row.ChannelID, "error", err)
			continue
		}
		if err := m.platform.FetchMessage(ctx, row.ChannelID, row.MessageID); err != nil {
			slog.Warn("Skipping panel with missing message", "guildID", row.GuildID, "map", row.Map, "messageID", row.MessageID, "error", err)
			continue
		}
		m.bind(row.MessageID, row.GuildID, row.Map)
		bound++
	}

	slog.Info("Restored flag panels", "bound", bound, "registered", len(rows))
	return bound, nil
}

// Bound returns the panel a message belongs to
func (m *Materializer) Bound(messageID string) (Binding, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[messageID]
	return b, ok
}

func (m *Materializer) bind(messageID, guildID, mapKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[messageID] = Binding{GuildID: guildID, Map: mapKey}
}

func (m *Materializer) unbind(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, messageID)
}
