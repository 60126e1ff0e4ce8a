package storage

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertPanel creates or replaces the registry row for (guild, map)
func (s *Store) UpsertPanel(ctx context.Context, p *Panel) error {
	return s.do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.q(
			`INSERT INTO flag_messages (guild_id, map, channel_id, message_id, log_channel_id) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (guild_id, map) DO UPDATE SET
			 channel_id = excluded.channel_id, message_id = excluded.message_id, log_channel_id = excluded.log_channel_id`),
			p.GuildID, p.Map, p.ChannelID, p.MessageID, nullString(p.LogChannelID),
		)
		return err
	})
}

// GetPanel returns the registry row for (guild, map), or ErrNotFound
func (s *Store) GetPanel(ctx context.Context, guildID, mapKey string) (*Panel, error) {
	p := &Panel{}
	err := s.do(ctx, func(db *sql.DB) error {
		var logCh sql.NullString
		err := db.QueryRowContext(ctx, s.q(
			`SELECT guild_id, map, channel_id, message_id, log_channel_id FROM flag_messages WHERE guild_id = ? AND map = ?`),
			guildID, mapKey,
		).Scan(&p.GuildID, &p.Map, &p.ChannelID, &p.MessageID, &logCh)
		p.LogChannelID = logCh.String
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPanels returns every registry row, ordered by guild then map
func (s *Store) ListPanels(ctx context.Context) ([]*Panel, error) {
	var panels []*Panel
	err := s.do(ctx, func(db *sql.DB) error {
		panels = panels[:0]
		rows, err := db.QueryContext(ctx,
			`SELECT guild_id, map, channel_id, message_id, log_channel_id FROM flag_messages ORDER BY guild_id, map`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			p := &Panel{}
			var logCh sql.NullString
			if err := rows.Scan(&p.GuildID, &p.Map, &p.ChannelID, &p.MessageID, &logCh); err != nil {
				return err
			}
			p.LogChannelID = logCh.String
			panels = append(panels, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return panels, nil
}

// UpdatePanelLocation rewrites the channel and message of an existing row
func (s *Store) UpdatePanelLocation(ctx context.Context, guildID, mapKey, channelID, messageID string) error {
	return s.do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.q(
			`UPDATE flag_messages SET channel_id = ?, message_id = ? WHERE guild_id = ? AND map = ?`),
			channelID, messageID, guildID, mapKey,
		)
		return err
	})
}
