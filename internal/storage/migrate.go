package storage

import (
	"context"
	"database/sql"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS flags (
		guild_id TEXT NOT NULL,
		map TEXT NOT NULL,
		flag TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '✅' CHECK (status IN ('✅', '❌')),
		role_id TEXT,
		PRIMARY KEY (guild_id, map, flag)
	)`,
	`CREATE TABLE IF NOT EXISTS flag_messages (
		guild_id TEXT NOT NULL,
		map TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		PRIMARY KEY (guild_id, map)
	)`,
	`CREATE TABLE IF NOT EXISTS factions (
		id BIGSERIAL PRIMARY KEY,
		guild_id TEXT NOT NULL,
		map TEXT NOT NULL,
		faction_name TEXT NOT NULL,
		role_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		leader_id TEXT NOT NULL,
		member_ids TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (guild_id, faction_name)
	)`,
	`CREATE TABLE IF NOT EXISTS faction_logs (
		id BIGSERIAL PRIMARY KEY,
		guild_id TEXT NOT NULL,
		action TEXT NOT NULL,
		faction_name TEXT,
		user_id TEXT NOT NULL,
		details TEXT,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`ALTER TABLE flag_messages ADD COLUMN IF NOT EXISTS log_channel_id TEXT`,
	`ALTER TABLE factions ADD COLUMN IF NOT EXISTS color TEXT`,
	`ALTER TABLE factions ADD COLUMN IF NOT EXISTS claimed_flag TEXT`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS flags (
		guild_id TEXT NOT NULL,
		map TEXT NOT NULL,
		flag TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '✅' CHECK (status IN ('✅', '❌')),
		role_id TEXT,
		PRIMARY KEY (guild_id, map, flag)
	)`,
	`CREATE TABLE IF NOT EXISTS flag_messages (
		guild_id TEXT NOT NULL,
		map TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		PRIMARY KEY (guild_id, map)
	)`,
	`CREATE TABLE IF NOT EXISTS factions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		map TEXT NOT NULL,
		faction_name TEXT NOT NULL,
		role_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		leader_id TEXT NOT NULL,
		member_ids TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (guild_id, faction_name)
	)`,
	`CREATE TABLE IF NOT EXISTS faction_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		action TEXT NOT NULL,
		faction_name TEXT,
		user_id TEXT NOT NULL,
		details TEXT,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

// Columns added after the first release. sqlite has no ADD COLUMN IF NOT
// EXISTS, so these are checked against pragma_table_info there.
var sqliteAdditive = []struct{ table, column, decl string }{
	{"flag_messages", "log_channel_id", "TEXT"},
	{"factions", "color", "TEXT"},
	{"factions", "claimed_flag", "TEXT"},
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_factions_guild_map ON factions (guild_id, map)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_factions_guild_lower_name ON factions (guild_id, lower(faction_name))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_factions_guild_role ON factions (guild_id, role_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_flags_owner ON flags (guild_id, map, role_id) WHERE role_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_faction_logs_guild ON faction_logs (guild_id, id)`,
}

// migrate creates and upgrades the schema. Every statement is idempotent.
func (s *Store) migrate(ctx context.Context) error {
	return s.do(ctx, func(db *sql.DB) error {
		schema := postgresSchema
		if s.dialect == dialectSQLite {
			schema = sqliteSchema
		}
		for _, stmt := range schema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}

		if s.dialect == dialectSQLite {
			for _, col := range sqliteAdditive {
				var n int
				err := db.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
					col.table, col.column,
				).Scan(&n)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				if n > 0 {
					continue
				}
				stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, col.table, col.column, col.decl)
				if _, err := db.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
			}
		}

		for _, stmt := range indexes {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
		return nil
	})
}
