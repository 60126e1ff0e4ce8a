// Package coord is the consistency coordinator. Every mutation of flag and
// faction state goes through a Coordinator, which serializes work per
// (guild, map) and per guild, keeps the flag and faction tables agreeing on
// who holds what, refreshes the affected panel and writes the audit trail.
package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/audit"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/keylock"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// Store is the persistence the coordinator mutates
type Store interface {
	GetFlag(ctx context.Context, guildID, mapKey, flag string) (*storage.Flag, error)
	ListFlags(ctx context.Context, guildID, mapKey string) ([]*storage.Flag, error)
	FlagOwnedBy(ctx context.Context, guildID, mapKey, roleID string) (*storage.Flag, error)
	ClaimFlag(ctx context.Context, guildID, mapKey, flag, roleID string) error
	ReleaseFlag(ctx context.Context, guildID, mapKey, flag string) error
	ReassignFlag(ctx context.Context, guildID, mapKey, flag, newRoleID string) error
	ResetMap(ctx context.Context, guildID, mapKey string) error
	EnsureFlags(ctx context.Context, guildID, mapKey string) error

	CreateFaction(ctx context.Context, f *storage.Faction) error
	DeleteFaction(ctx context.Context, guildID, name string) error
	FindFaction(ctx context.Context, guildID, name string) (*storage.Faction, error)
	FindFactionByRole(ctx context.Context, guildID, roleID string) (*storage.Faction, error)
	ListFactions(ctx context.Context, guildID, mapKey string) ([]*storage.Faction, error)
	SetClaimedFlag(ctx context.Context, guildID, roleID, mapKey, flag string) error
	AddMember(ctx context.Context, guildID, name, userID string) (*storage.Faction, error)
	RemoveMember(ctx context.Context, guildID, name, userID string) (*storage.Faction, error)
}

// Panels keeps the live flag panels in step with the store
type Panels interface {
	Refresh(ctx context.Context, guildID, mapKey string) error
	Publish(ctx context.Context, guildID, mapKey, channelID, logChannelID string) (*storage.Panel, error)
}

// Auditor records administrative actions
type Auditor interface {
	Log(ctx context.Context, e audit.Entry) error
}

// Deps are the collaborators a Coordinator is built from
type Deps struct {
	Store    Store
	Catalog  *catalog.Catalog
	Platform platform.Platform
	Panels   Panels
	Audit    Auditor
}

// Coordinator serializes and applies compound state changes
type Coordinator struct {
	store    Store
	catalog  *catalog.Catalog
	platform platform.Platform
	panels   Panels
	audit    Auditor
	latches  *keylock.Table
}

// New creates a Coordinator
func New(deps Deps) *Coordinator {
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	return &Coordinator{
		store:    deps.Store,
		catalog:  deps.Catalog,
		platform: deps.Platform,
		panels:   deps.Panels,
		audit:    deps.Audit,
		latches:  keylock.New(),
	}
}

// Catalog returns the flag catalog in use
func (c *Coordinator) Catalog() *catalog.Catalog {
	return c.catalog
}

func (c *Coordinator) lockMap(ctx context.Context, guildID, mapKey string) (func(), error) {
	return c.latches.Lock(ctx, keylock.MapKey(guildID, mapKey))
}

func (c *Coordinator) lockGuild(ctx context.Context, guildID string) (func(), error) {
	return c.latches.Lock(ctx, keylock.GuildKey(guildID))
}

// refresh is best effort; the materializer logs its own failures.
func (c *Coordinator) refresh(ctx context.Context, guildID, mapKey string) {
	if c.panels == nil {
		return
	}
	_ = c.panels.Refresh(ctx, guildID, mapKey)
}

func (c *Coordinator) record(ctx context.Context, e audit.Entry) {
	if c.audit == nil {
		return
	}
	_ = c.audit.Log(ctx, e)
}

// role resolves roleID inside guildID. A role the guild does not know is
// WrongGuildRole.
func (c *Coordinator) role(ctx context.Context, guildID, roleID string) (*platform.Role, error) {
	r, err := c.platform.Role(ctx, guildID, roleID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return nil, apperr.Wrap(apperr.KindWrongGuildRole, err)
		}
		return nil, platformErr(err)
	}
	if r.GuildID != "" && r.GuildID != guildID {
		return nil, apperr.New(apperr.KindWrongGuildRole)
	}
	return r, nil
}

// currentFlag loads a flag row, treating a missing row as available
func (c *Coordinator) currentFlag(ctx context.Context, guildID, mapKey, name string) (*storage.Flag, error) {
	f, err := c.store.GetFlag(ctx, guildID, mapKey, name)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.Flag{GuildID: guildID, Map: mapKey, Name: name, Status: storage.StatusAvailable}, nil
	}
	return f, err
}

// factionOnMap returns the name of the faction owning roleID on mapKey, or ""
func (c *Coordinator) factionOnMap(ctx context.Context, guildID, mapKey, roleID string) string {
	if roleID == "" {
		return ""
	}
	f, err := c.store.FindFactionByRole(ctx, guildID, roleID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Failed to look up faction by role", "guildID", guildID, "roleID", roleID, "error", err)
		}
		return ""
	}
	if f.Map != mapKey {
		return ""
	}
	return f.Name
}

// platformErr classifies platform failures that reach the caller
func platformErr(err error) error {
	if errors.Is(err, platform.ErrForbidden) {
		return apperr.Wrap(apperr.KindPermissionDenied, err)
	}
	return err
}

// checkRoleFree fails with RoleAlreadyOwnsFlag if roleID holds a flag on the
// map other than except.
func (c *Coordinator) checkRoleFree(ctx context.Context, guildID, mapKey, roleID, except string) error {
	owned, err := c.store.FlagOwnedBy(ctx, guildID, mapKey, roleID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check role ownership: %w", err)
	}
	if owned.Name == except {
		return nil
	}
	return apperr.RoleAlreadyOwnsFlag(owned.Name)
}
