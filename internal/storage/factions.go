package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
)

const factionColumns = `id, guild_id, map, faction_name, role_id, channel_id, leader_id, member_ids, color, claimed_flag, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFaction(row rowScanner) (*Faction, error) {
	f := &Faction{}
	var (
		members pq.StringArray
		color   sql.NullString
		claimed sql.NullString
		created sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.GuildID, &f.Map, &f.Name, &f.RoleID, &f.ChannelID, &f.LeaderID,
		&members, &color, &claimed, &created); err != nil {
		return nil, err
	}
	f.MemberIDs = []string(members)
	if color.Valid {
		if c, err := ParseColor(color.String); err == nil {
			f.Color = c
		}
	}
	f.ClaimedFlag = claimed.String
	f.CreatedAt = created.Time
	return f, nil
}

func memberArray(ids []string) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CreateFaction inserts a faction and fills in its surrogate id. The leader
// is always added to the member set.
func (s *Store) CreateFaction(ctx context.Context, f *Faction) error {
	members := memberArray(append([]string{f.LeaderID}, f.MemberIDs...))
	err := s.do(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, s.q(
			`INSERT INTO factions (guild_id, map, faction_name, role_id, channel_id, leader_id, member_ids, color, claimed_flag)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			f.GuildID, f.Map, f.Name, f.RoleID, f.ChannelID, f.LeaderID,
			members, FormatColor(f.Color), nullString(f.ClaimedFlag),
		).Scan(&f.ID)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.FactionExists(f.Name)
		}
		return err
	}
	f.MemberIDs = []string(members)
	return nil
}

// DeleteFaction removes a faction by case-insensitive name
func (s *Store) DeleteFaction(ctx context.Context, guildID, name string) error {
	var n int64
	err := s.do(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, s.q(
			`DELETE FROM factions WHERE guild_id = ? AND lower(faction_name) = lower(?)`),
			guildID, name,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.FactionNotFound(name)
	}
	return nil
}

// FindFaction looks a faction up by case-insensitive name
func (s *Store) FindFaction(ctx context.Context, guildID, name string) (*Faction, error) {
	var f *Faction
	err := s.do(ctx, func(db *sql.DB) error {
		var err error
		f, err = scanFaction(db.QueryRowContext(ctx, s.q(
			`SELECT `+factionColumns+` FROM factions WHERE guild_id = ? AND lower(faction_name) = lower(?)`),
			guildID, strings.TrimSpace(name),
		))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.FactionNotFound(name)
	}
	return f, err
}

// FindFactionByRole returns the faction that owns roleID, or ErrNotFound
func (s *Store) FindFactionByRole(ctx context.Context, guildID, roleID string) (*Faction, error) {
	var f *Faction
	err := s.do(ctx, func(db *sql.DB) error {
		var err error
		f, err = scanFaction(db.QueryRowContext(ctx, s.q(
			`SELECT `+factionColumns+` FROM factions WHERE guild_id = ? AND role_id = ?`),
			guildID, roleID,
		))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// ListFactions returns a guild's factions. With mapKey empty they are ordered
// by (map, name); otherwise only that map's factions, by name.
func (s *Store) ListFactions(ctx context.Context, guildID, mapKey string) ([]*Faction, error) {
	query := `SELECT ` + factionColumns + ` FROM factions WHERE guild_id = ? ORDER BY map ASC, faction_name ASC`
	args := []any{guildID}
	if mapKey != "" {
		query = `SELECT ` + factionColumns + ` FROM factions WHERE guild_id = ? AND map = ? ORDER BY faction_name ASC`
		args = append(args, mapKey)
	}

	var factions []*Faction
	err := s.do(ctx, func(db *sql.DB) error {
		factions = factions[:0]
		rows, err := db.QueryContext(ctx, s.q(query), args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			f, err := scanFaction(rows)
			if err != nil {
				return err
			}
			factions = append(factions, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return factions, nil
}

// SetClaimedFlag points the faction owning roleID on mapKey at flag, or
// clears its claim when flag is empty.
func (s *Store) SetClaimedFlag(ctx context.Context, guildID, roleID, mapKey, flag string) error {
	return s.do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.q(
			`UPDATE factions SET claimed_flag = ? WHERE guild_id = ? AND role_id = ? AND map = ?`),
			nullString(flag), guildID, roleID, mapKey,
		)
		return err
	})
}

// AddMember adds userID to a faction's member set. Adding an existing member
// is a no-op.
func (s *Store) AddMember(ctx context.Context, guildID, name, userID string) (*Faction, error) {
	return s.updateMembers(ctx, guildID, name, func(members []string) []string {
		return append(members, userID)
	})
}

// RemoveMember removes userID from the member set. The leader may be removed;
// leader_id is left as is.
func (s *Store) RemoveMember(ctx context.Context, guildID, name, userID string) (*Faction, error) {
	return s.updateMembers(ctx, guildID, name, func(members []string) []string {
		out := members[:0]
		for _, m := range members {
			if m != userID {
				out = append(out, m)
			}
		}
		return out
	})
}

func (s *Store) updateMembers(ctx context.Context, guildID, name string, mutate func([]string) []string) (*Faction, error) {
	var f *Faction
	err := s.tx(ctx, func(tx *sql.Tx) error {
		var err error
		f, err = scanFaction(tx.QueryRowContext(ctx, s.q(
			`SELECT `+factionColumns+` FROM factions WHERE guild_id = ? AND lower(faction_name) = lower(?)`+s.forUpdate()),
			guildID, strings.TrimSpace(name),
		))
		if err != nil {
			return err
		}

		members := memberArray(mutate(append([]string(nil), f.MemberIDs...)))
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE factions SET member_ids = ? WHERE id = ?`), members, f.ID); err != nil {
			return err
		}
		f.MemberIDs = []string(members)
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.FactionNotFound(name)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
