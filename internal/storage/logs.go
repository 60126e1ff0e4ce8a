package storage

import (
	"context"
	"database/sql"
)

// AppendLog writes one audit row
func (s *Store) AppendLog(ctx context.Context, e *LogEntry) error {
	return s.do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.q(
			`INSERT INTO faction_logs (guild_id, action, faction_name, user_id, details) VALUES (?, ?, ?, ?, ?)`),
			e.GuildID, e.Action, nullString(e.FactionName), e.UserID, e.Details,
		)
		return err
	})
}

// ListLogs returns the newest audit rows for a guild, newest first
func (s *Store) ListLogs(ctx context.Context, guildID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []*LogEntry
	err := s.do(ctx, func(db *sql.DB) error {
		entries = entries[:0]
		rows, err := db.QueryContext(ctx, s.q(
			`SELECT id, guild_id, action, faction_name, user_id, details, timestamp
			 FROM faction_logs WHERE guild_id = ? ORDER BY id DESC LIMIT ?`),
			guildID, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e := &LogEntry{}
			var (
				faction sql.NullString
				details sql.NullString
				ts      sql.NullTime
			)
			if err := rows.Scan(&e.ID, &e.GuildID, &e.Action, &faction, &e.UserID, &details, &ts); err != nil {
				return err
			}
			e.FactionName = faction.String
			e.Details = details.String
			e.Timestamp = ts.Time
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
