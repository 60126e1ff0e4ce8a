package storage

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
)

const upsertFlag = `INSERT INTO flags (guild_id, map, flag, status, role_id) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (guild_id, map, flag) DO UPDATE SET status = excluded.status, role_id = excluded.role_id`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) canonical(flag string) (string, error) {
	return s.catalog.Canonical(flag)
}

// GetFlag returns one flag row. A flag that has never been written returns
// ErrNotFound; callers treat that as available.
func (s *Store) GetFlag(ctx context.Context, guildID, mapKey, flag string) (*Flag, error) {
	name, err := s.canonical(flag)
	if err != nil {
		return nil, err
	}

	f := &Flag{}
	err = s.do(ctx, func(db *sql.DB) error {
		var role sql.NullString
		err := db.QueryRowContext(ctx, s.q(
			`SELECT guild_id, map, flag, status, role_id FROM flags WHERE guild_id = ? AND map = ? AND flag = ?`),
			guildID, mapKey, name,
		).Scan(&f.GuildID, &f.Map, &f.Name, &f.Status, &role)
		f.OwnerRoleID = role.String
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFlags returns every flag row for (guild, map) sorted by flag name
func (s *Store) ListFlags(ctx context.Context, guildID, mapKey string) ([]*Flag, error) {
	var flags []*Flag
	err := s.do(ctx, func(db *sql.DB) error {
		flags = flags[:0]
		rows, err := db.QueryContext(ctx, s.q(
			`SELECT guild_id, map, flag, status, role_id FROM flags WHERE guild_id = ? AND map = ? ORDER BY flag`),
			guildID, mapKey,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			f := &Flag{}
			var role sql.NullString
			if err := rows.Scan(&f.GuildID, &f.Map, &f.Name, &f.Status, &role); err != nil {
				return err
			}
			f.OwnerRoleID = role.String
			flags = append(flags, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	// Byte order, independent of the database collation.
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags, nil
}

// FlagOwnedBy returns the flag a role holds on a map, or ErrNotFound
func (s *Store) FlagOwnedBy(ctx context.Context, guildID, mapKey, roleID string) (*Flag, error) {
	f := &Flag{}
	err := s.do(ctx, func(db *sql.DB) error {
		var role sql.NullString
		err := db.QueryRowContext(ctx, s.q(
			`SELECT guild_id, map, flag, status, role_id FROM flags
			 WHERE guild_id = ? AND map = ? AND role_id = ? AND status = ?`),
			guildID, mapKey, roleID, StatusClaimed,
		).Scan(&f.GuildID, &f.Map, &f.Name, &f.Status, &role)
		f.OwnerRoleID = role.String
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SetFlag upserts a flag row in a single statement
func (s *Store) SetFlag(ctx context.Context, guildID, mapKey, flag string, status FlagStatus, ownerRoleID string) error {
	name, err := s.canonical(flag)
	if err != nil {
		return err
	}
	if status == StatusAvailable {
		ownerRoleID = ""
	}
	return s.mapFlagErr(name, s.do(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, s.q(upsertFlag), guildID, mapKey, name, status, nullString(ownerRoleID))
		return err
	}))
}

// ReleaseFlag marks a flag available and clears the claim on whichever
// faction of that map held it, atomically.
func (s *Store) ReleaseFlag(ctx context.Context, guildID, mapKey, flag string) error {
	name, err := s.canonical(flag)
	if err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		return s.releaseIn(ctx, tx, guildID, mapKey, name)
	})
}

func (s *Store) releaseIn(ctx context.Context, tx execer, guildID, mapKey, name string) error {
	if _, err := tx.ExecContext(ctx, s.q(upsertFlag), guildID, mapKey, name, StatusAvailable, nil); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, s.q(
		`UPDATE factions SET claimed_flag = NULL WHERE guild_id = ? AND map = ? AND claimed_flag = ?`),
		guildID, mapKey, name,
	)
	return err
}

// ClaimFlag marks a flag claimed by roleID and points the role's faction on
// that map, if any, at it. Both writes commit together.
func (s *Store) ClaimFlag(ctx context.Context, guildID, mapKey, flag, roleID string) error {
	name, err := s.canonical(flag)
	if err != nil {
		return err
	}
	return s.mapFlagErr(name, s.tx(ctx, func(tx *sql.Tx) error {
		return s.claimIn(ctx, tx, guildID, mapKey, name, roleID)
	}))
}

func (s *Store) claimIn(ctx context.Context, tx execer, guildID, mapKey, name, roleID string) error {
	if _, err := tx.ExecContext(ctx, s.q(upsertFlag), guildID, mapKey, name, StatusClaimed, roleID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, s.q(
		`UPDATE factions SET claimed_flag = ? WHERE guild_id = ? AND map = ? AND role_id = ?`),
		name, guildID, mapKey, roleID,
	)
	return err
}

// ReassignFlag moves a claimed flag to newRoleID: the previous holder's
// faction loses the claim and the new holder's faction gains it.
func (s *Store) ReassignFlag(ctx context.Context, guildID, mapKey, flag, newRoleID string) error {
	name, err := s.canonical(flag)
	if err != nil {
		return err
	}
	return s.mapFlagErr(name, s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(
			`UPDATE factions SET claimed_flag = NULL WHERE guild_id = ? AND map = ? AND claimed_flag = ?`),
			guildID, mapKey, name,
		); err != nil {
			return err
		}
		return s.claimIn(ctx, tx, guildID, mapKey, name, newRoleID)
	}))
}

// ResetMap releases every flag on the map, makes sure every catalog flag has
// a row, and clears all faction claims on the map, in one transaction.
func (s *Store) ResetMap(ctx context.Context, guildID, mapKey string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(
			`UPDATE flags SET status = ?, role_id = NULL WHERE guild_id = ? AND map = ?`),
			StatusAvailable, guildID, mapKey,
		); err != nil {
			return err
		}
		if err := s.ensureIn(ctx, tx, guildID, mapKey); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(
			`UPDATE factions SET claimed_flag = NULL WHERE guild_id = ? AND map = ?`),
			guildID, mapKey,
		)
		return err
	})
}

// EnsureFlags inserts an available row for every catalog flag the map does
// not have yet. Existing rows are left alone.
func (s *Store) EnsureFlags(ctx context.Context, guildID, mapKey string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		return s.ensureIn(ctx, tx, guildID, mapKey)
	})
}

func (s *Store) ensureIn(ctx context.Context, tx execer, guildID, mapKey string) error {
	for _, name := range s.catalog.Flags() {
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO flags (guild_id, map, flag, status, role_id) VALUES (?, ?, ?, ?, NULL)
			 ON CONFLICT (guild_id, map, flag) DO NOTHING`),
			guildID, mapKey, name, StatusAvailable,
		); err != nil {
			return err
		}
	}
	return nil
}

// mapFlagErr turns the one-flag-per-role index violation into the domain kind
func (s *Store) mapFlagErr(flag string, err error) error {
	if err != nil && isUniqueViolation(err) {
		return apperr.RoleAlreadyOwnsFlag(flag)
	}
	return err
}
