package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/audit"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// HubCategory holds every faction channel
const HubCategory = "factions-hub"

// CreateFactionRequest describes a new faction
type CreateFactionRequest struct {
	GuildID   string
	Map       string
	Name      string
	Flag      string // optional
	LeaderID  string
	MemberIDs []string
	Color     int
	ActorID   string
}

// SyncFactionRequest adopts an existing role and channel as a faction
type SyncFactionRequest struct {
	GuildID   string
	Map       string
	RoleID    string
	ChannelID string
	Flag      string // optional
	LeaderID  string // optional
	ActorID   string
}

// ChannelSlug turns a faction name into a channel name
func ChannelSlug(name string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(sb.String(), "-")
	if slug == "" {
		return "faction"
	}
	return slug
}

// withGuildAndMap runs fn holding the guild latch and then the map latch.
// Both are released before it returns.
func (c *Coordinator) withGuildAndMap(ctx context.Context, guildID, mapKey string, fn func() (*storage.Faction, error)) (*storage.Faction, error) {
	unlockGuild, err := c.lockGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	defer unlockGuild()
	unlockMap, err := c.lockMap(ctx, guildID, mapKey)
	if err != nil {
		return nil, err
	}
	defer unlockMap()
	return fn()
}

// rollback collects undo steps for side effects taken so far
type rollback struct {
	steps []rollbackStep
}

type rollbackStep struct {
	what string
	undo func(ctx context.Context) error
}

func (r *rollback) add(what string, undo func(ctx context.Context) error) {
	r.steps = append(r.steps, rollbackStep{what: what, undo: undo})
}

// run undoes in reverse order and returns what could not be undone
func (r *rollback) run(ctx context.Context) []string {
	var partial []string
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		if err := step.undo(ctx); err != nil {
			slog.Error("Rollback step failed", "step", step.what, "error", err)
			partial = append(partial, step.what)
		}
	}
	return partial
}

// CreateFaction creates the role, private channel and row for a new faction,
// optionally claiming a flag for it. Any failure after the first side effect
// undoes what it can and returns CreationFailed listing what was left behind.
func (c *Coordinator) CreateFaction(ctx context.Context, req CreateFactionRequest) (*storage.Faction, error) {
	info, err := c.catalog.Map(req.Map)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	var flag string
	if req.Flag != "" {
		if flag, err = c.catalog.Canonical(req.Flag); err != nil {
			return nil, err
		}
	}

	f, err := c.withGuildAndMap(ctx, req.GuildID, info.Key, func() (*storage.Faction, error) {
		return c.createLocked(ctx, req, name, info.Key, flag)
	})
	if err != nil {
		return nil, err
	}

	if flag != "" {
		c.refresh(ctx, req.GuildID, info.Key)
	}
	details := fmt.Sprintf("%s on %s, leader %s, %d members", platform.RoleMention(f.RoleID), info.Name,
		platform.UserMention(f.LeaderID), len(f.MemberIDs))
	if flag != "" {
		details += ", flag " + flag
	}
	c.record(ctx, audit.Entry{
		GuildID: req.GuildID,
		Map:     info.Key,
		Action:  audit.ActionFactionCreated,
		Faction: f.Name,
		UserID:  req.ActorID,
		Details: details,
	})
	if flag != "" {
		c.recordClaim(ctx, req.GuildID, info, f, req.ActorID)
	}
	return f, nil
}

// recordClaim logs a flag a faction claimed while being created or synced
func (c *Coordinator) recordClaim(ctx context.Context, guildID string, info catalog.MapInfo, f *storage.Faction, actorID string) {
	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Map:     info.Key,
		Action:  audit.ActionFlagAssigned,
		Faction: f.Name,
		UserID:  actorID,
		Details: fmt.Sprintf("%s on %s assigned to %s", f.ClaimedFlag, info.Name, platform.RoleMention(f.RoleID)),
	})
}

func (c *Coordinator) createLocked(ctx context.Context, req CreateFactionRequest, name, mapKey, flag string) (*storage.Faction, error) {
	if _, err := c.store.FindFaction(ctx, req.GuildID, name); err == nil {
		return nil, apperr.FactionExists(name)
	} else if apperr.KindOf(err) != apperr.KindFactionNotFound {
		return nil, err
	}
	if flag != "" {
		current, err := c.currentFlag(ctx, req.GuildID, mapKey, flag)
		if err != nil {
			return nil, err
		}
		if current.Claimed() {
			return nil, apperr.AlreadyClaimed(flag, current.OwnerRoleID)
		}
	}

	var undo rollback
	fail := func(err error) (*storage.Faction, error) {
		// Undo with a fresh context so a cancelled request still cleans up.
		partial := undo.run(context.WithoutCancel(ctx))
		return nil, apperr.CreationFailed(err, partial)
	}

	role, err := c.platform.CreateRole(ctx, req.GuildID, name, req.Color)
	if err != nil {
		return nil, apperr.CreationFailed(fmt.Errorf("failed to create role: %w", err), nil)
	}
	undo.add("role "+role.Name, func(ctx context.Context) error {
		return c.platform.DeleteRole(ctx, req.GuildID, role.ID)
	})

	hub, err := platform.EnsureChannel(ctx, c.platform, req.GuildID, platform.ChannelSpec{Name: HubCategory, Kind: platform.KindCategory})
	if err != nil {
		return fail(fmt.Errorf("failed to resolve %s category: %w", HubCategory, err))
	}
	ch, err := c.platform.CreateChannel(ctx, req.GuildID, platform.ChannelSpec{
		Name:          ChannelSlug(name),
		ParentID:      hub.ID,
		Topic:         fmt.Sprintf("Private channel for %s", name),
		PrivateToRole: role.ID,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create channel: %w", err))
	}
	undo.add("channel #"+ch.Name, func(ctx context.Context) error {
		return c.platform.DeleteChannel(ctx, ch.ID)
	})

	members := append([]string{req.LeaderID}, req.MemberIDs...)
	for _, uid := range dedupe(members) {
		if err := c.platform.AddMemberRole(ctx, req.GuildID, uid, role.ID); err != nil {
			return fail(fmt.Errorf("failed to give role to %s: %w", uid, err))
		}
	}

	f := &storage.Faction{
		GuildID:   req.GuildID,
		Map:       mapKey,
		Name:      name,
		RoleID:    role.ID,
		ChannelID: ch.ID,
		LeaderID:  req.LeaderID,
		MemberIDs: req.MemberIDs,
		Color:     req.Color,
	}
	if err := c.store.CreateFaction(ctx, f); err != nil {
		if apperr.KindOf(err) == apperr.KindFactionExists {
			undo.run(context.WithoutCancel(ctx))
			return nil, err
		}
		return fail(fmt.Errorf("failed to save faction: %w", err))
	}
	undo.add("faction row", func(ctx context.Context) error {
		return c.store.DeleteFaction(ctx, req.GuildID, name)
	})

	if flag != "" {
		if err := c.store.ClaimFlag(ctx, req.GuildID, mapKey, flag, role.ID); err != nil {
			return fail(fmt.Errorf("failed to claim %s: %w", flag, err))
		}
		undo.add("flag "+flag, func(ctx context.Context) error {
			return c.store.ReleaseFlag(ctx, req.GuildID, mapKey, flag)
		})
		f.ClaimedFlag = flag
	}

	welcome := fmt.Sprintf("Welcome to **%s**, %s! Leader: %s.", name, platform.RoleMention(role.ID), platform.UserMention(req.LeaderID))
	if flag != "" {
		welcome += fmt.Sprintf(" Your flag: **%s**.", flag)
	}
	msgID, err := c.platform.SendMessage(ctx, ch.ID, &platform.Message{
		Content:      welcome,
		MentionRoles: []string{role.ID},
		MentionUsers: []string{req.LeaderID},
	})
	if err != nil {
		return fail(fmt.Errorf("failed to post welcome message: %w", err))
	}
	if err := c.platform.PinMessage(ctx, ch.ID, msgID); err != nil {
		slog.Warn("Failed to pin welcome message", "guildID", req.GuildID, "faction", name, "error", err)
	}

	return f, nil
}

// DeleteFaction releases the faction's flag, removes its channel and role,
// and deletes its row. Platform failures do not stop the deletion; they are
// returned as warnings.
func (c *Coordinator) DeleteFaction(ctx context.Context, guildID, name, actorID string) (*storage.Faction, []string, error) {
	var warnings []string
	f, err := func() (*storage.Faction, error) {
		unlockGuild, err := c.lockGuild(ctx, guildID)
		if err != nil {
			return nil, err
		}
		defer unlockGuild()

		f, err := c.store.FindFaction(ctx, guildID, name)
		if err != nil {
			return nil, err
		}

		if f.ClaimedFlag != "" {
			unlockMap, err := c.lockMap(ctx, guildID, f.Map)
			if err != nil {
				return nil, err
			}
			_, err = c.releaseLocked(ctx, guildID, f.Map, f.ClaimedFlag)
			unlockMap()
			if err != nil && apperr.KindOf(err) != apperr.KindAlreadyAvailable {
				return nil, err
			}
		}

		if f.ChannelID != "" {
			if err := c.platform.DeleteChannel(ctx, f.ChannelID); err != nil && !errors.Is(err, platform.ErrNotFound) {
				warnings = append(warnings, fmt.Sprintf("channel %s was not deleted: %v", platform.ChannelMention(f.ChannelID), err))
			}
		}
		if err := c.platform.DeleteRole(ctx, guildID, f.RoleID); err != nil && !errors.Is(err, platform.ErrNotFound) {
			warnings = append(warnings, fmt.Sprintf("role %s was not deleted: %v", f.Name, err))
		}

		return f, c.store.DeleteFaction(ctx, guildID, f.Name)
	}()
	if err != nil {
		return nil, warnings, err
	}

	if f.ClaimedFlag != "" {
		c.refresh(ctx, guildID, f.Map)
	}
	details := fmt.Sprintf("Deleted from %s", f.Map)
	if f.ClaimedFlag != "" {
		details += ", released " + f.ClaimedFlag
	}
	if len(warnings) > 0 {
		details += "; " + strings.Join(warnings, "; ")
	}
	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Map:     f.Map,
		Action:  audit.ActionFactionDeleted,
		Faction: f.Name,
		UserID:  actorID,
		Details: details,
	})
	return f, warnings, nil
}

// SyncFaction adopts a hand-made role and channel as a tracked faction. The
// role's name becomes the faction name and its holders the members. A flag
// the role already holds on the map is recorded as its claim; a requested
// flag is claimed only if it is available and the role holds none.
func (c *Coordinator) SyncFaction(ctx context.Context, req SyncFactionRequest) (*storage.Faction, error) {
	info, err := c.catalog.Map(req.Map)
	if err != nil {
		return nil, err
	}
	var flag string
	if req.Flag != "" {
		if flag, err = c.catalog.Canonical(req.Flag); err != nil {
			return nil, err
		}
	}
	role, err := c.role(ctx, req.GuildID, req.RoleID)
	if err != nil {
		return nil, err
	}
	ch, err := c.platform.Channel(ctx, req.ChannelID)
	if err != nil {
		return nil, platformErr(err)
	}
	if ch.GuildID != req.GuildID {
		return nil, apperr.New(apperr.KindPermissionDenied)
	}
	members, err := c.platform.RoleMembers(ctx, req.GuildID, role.ID)
	if err != nil {
		return nil, platformErr(err)
	}

	leader := req.LeaderID
	if leader == "" {
		switch {
		case contains(members, req.ActorID):
			leader = req.ActorID
		case len(members) > 0:
			leader = members[0]
		default:
			leader = req.ActorID
		}
	}

	claimed := false
	f, err := c.withGuildAndMap(ctx, req.GuildID, info.Key, func() (*storage.Faction, error) {
		if _, err := c.store.FindFaction(ctx, req.GuildID, role.Name); err == nil {
			return nil, apperr.FactionExists(role.Name)
		} else if apperr.KindOf(err) != apperr.KindFactionNotFound {
			return nil, err
		}
		if existing, err := c.store.FindFactionByRole(ctx, req.GuildID, role.ID); err == nil {
			return nil, apperr.FactionExists(existing.Name)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		f := &storage.Faction{
			GuildID:   req.GuildID,
			Map:       info.Key,
			Name:      role.Name,
			RoleID:    role.ID,
			ChannelID: ch.ID,
			LeaderID:  leader,
			MemberIDs: members,
			Color:     role.Color,
		}
		owned, err := c.store.FlagOwnedBy(ctx, req.GuildID, info.Key, role.ID)
		switch {
		case err == nil:
			f.ClaimedFlag = owned.Name
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
		if err := c.store.CreateFaction(ctx, f); err != nil {
			return nil, err
		}

		if flag == "" || f.ClaimedFlag != "" {
			return f, nil
		}
		current, err := c.currentFlag(ctx, req.GuildID, info.Key, flag)
		if err != nil {
			return nil, err
		}
		if current.Claimed() {
			return f, nil
		}
		if err := c.store.ClaimFlag(ctx, req.GuildID, info.Key, flag, role.ID); err != nil {
			return nil, err
		}
		f.ClaimedFlag = flag
		claimed = true
		return f, nil
	})
	if err != nil {
		return nil, err
	}

	if claimed {
		c.refresh(ctx, req.GuildID, info.Key)
	}
	details := fmt.Sprintf("Adopted %s and %s on %s, %d members", platform.RoleMention(role.ID),
		platform.ChannelMention(ch.ID), info.Name, len(f.MemberIDs))
	if f.ClaimedFlag != "" {
		details += ", flag " + f.ClaimedFlag
	}
	c.record(ctx, audit.Entry{
		GuildID: req.GuildID,
		Map:     info.Key,
		Action:  audit.ActionFactionSynced,
		Faction: f.Name,
		UserID:  req.ActorID,
		Details: details,
	})
	if claimed {
		c.recordClaim(ctx, req.GuildID, info, f, req.ActorID)
	}
	return f, nil
}

// SyncFactionClaims points every faction's claimed flag at the flag its role
// actually holds on its map, or clears it. It returns how many factions
// changed; running it twice changes nothing the second time.
func (c *Coordinator) SyncFactionClaims(ctx context.Context, guildID, actorID string) (int, error) {
	factions, err := c.store.ListFactions(ctx, guildID, "")
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, f := range factions {
		n, err := c.syncClaim(ctx, f)
		if err != nil {
			return changed, err
		}
		changed += n
	}

	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Action:  audit.ActionClaimsSynced,
		UserID:  actorID,
		Details: fmt.Sprintf("%d of %d factions updated", changed, len(factions)),
	})
	return changed, nil
}

func (c *Coordinator) syncClaim(ctx context.Context, f *storage.Faction) (int, error) {
	unlock, err := c.lockMap(ctx, f.GuildID, f.Map)
	if err != nil {
		return 0, err
	}
	defer unlock()

	want := ""
	owned, err := c.store.FlagOwnedBy(ctx, f.GuildID, f.Map, f.RoleID)
	switch {
	case err == nil:
		want = owned.Name
	case !errors.Is(err, storage.ErrNotFound):
		return 0, err
	}
	if f.ClaimedFlag == want {
		return 0, nil
	}
	if err := c.store.SetClaimedFlag(ctx, f.GuildID, f.RoleID, f.Map, want); err != nil {
		return 0, err
	}
	slog.Info("Faction claim reconciled", "guildID", f.GuildID, "faction", f.Name, "from", f.ClaimedFlag, "to", want)
	return 1, nil
}

// AddMember adds a user to a faction and gives them its role. A failed role
// grant is returned as a warning.
func (c *Coordinator) AddMember(ctx context.Context, guildID, name, userID, actorID string) (*storage.Faction, []string, error) {
	f, err := c.store.AddMember(ctx, guildID, name, userID)
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	if err := c.platform.AddMemberRole(ctx, guildID, userID, f.RoleID); err != nil {
		slog.Warn("Failed to grant faction role", "guildID", guildID, "faction", f.Name, "userID", userID, "error", err)
		warnings = append(warnings, fmt.Sprintf("role was not granted: %v", err))
	}
	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Action:  audit.ActionMemberAdded,
		Faction: f.Name,
		UserID:  actorID,
		Details: fmt.Sprintf("%s joined", platform.UserMention(userID)),
	})
	return f, warnings, nil
}

// RemoveMember drops a user from a faction and takes its role away. Removing
// the leader leaves the leader field as it is.
func (c *Coordinator) RemoveMember(ctx context.Context, guildID, name, userID, actorID string) (*storage.Faction, []string, error) {
	f, err := c.store.RemoveMember(ctx, guildID, name, userID)
	if err != nil {
		return nil, nil, err
	}
	var warnings []string
	if err := c.platform.RemoveMemberRole(ctx, guildID, userID, f.RoleID); err != nil {
		slog.Warn("Failed to revoke faction role", "guildID", guildID, "faction", f.Name, "userID", userID, "error", err)
		warnings = append(warnings, fmt.Sprintf("role was not removed: %v", err))
	}
	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Action:  audit.ActionMemberRemoved,
		Faction: f.Name,
		UserID:  actorID,
		Details: fmt.Sprintf("%s left", platform.UserMention(userID)),
	})
	return f, warnings, nil
}

// ListFactions lists a guild's factions, optionally for one map
func (c *Coordinator) ListFactions(ctx context.Context, guildID, mapKey string) ([]*storage.Faction, error) {
	if mapKey != "" {
		info, err := c.catalog.Map(mapKey)
		if err != nil {
			return nil, err
		}
		mapKey = info.Key
	}
	return c.store.ListFactions(ctx, guildID, mapKey)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
