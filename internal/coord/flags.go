package coord

import (
	"context"
	"fmt"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/audit"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// SetupRequest asks for a map's panel to be installed in a guild. Empty
// channel ids mean "find or create the default channel".
type SetupRequest struct {
	GuildID        string
	Map            string
	FlagsChannelID string
	LogChannelID   string
	ActorID        string
}

// LogChannelName is the default flag activity channel for a map
func LogChannelName(mapKey string) string {
	return "flag-logs-" + mapKey
}

// Setup makes sure every catalog flag has a row for the map, resolves the
// panel and log channels, and posts or reconciles the panel.
func (c *Coordinator) Setup(ctx context.Context, req SetupRequest) (*storage.Panel, error) {
	info, err := c.catalog.Map(req.Map)
	if err != nil {
		return nil, err
	}

	unlock, err := c.lockMap(ctx, req.GuildID, info.Key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	flagsCh, err := c.setupChannel(ctx, req.GuildID, req.FlagsChannelID, "flags-"+info.Key, fmt.Sprintf("%s flag ownership", info.Name))
	if err != nil {
		return nil, err
	}
	logCh, err := c.setupChannel(ctx, req.GuildID, req.LogChannelID, LogChannelName(info.Key), fmt.Sprintf("%s flag activity", info.Name))
	if err != nil {
		return nil, err
	}

	if err := c.store.EnsureFlags(ctx, req.GuildID, info.Key); err != nil {
		return nil, err
	}

	p, err := c.panels.Publish(ctx, req.GuildID, info.Key, flagsCh, logCh)
	if err != nil {
		return nil, platformErr(err)
	}

	c.record(ctx, audit.Entry{
		GuildID: req.GuildID,
		Map:     info.Key,
		Action:  audit.ActionSetup,
		UserID:  req.ActorID,
		Details: fmt.Sprintf("%s panel in %s, activity in %s", info.Name, platform.ChannelMention(flagsCh), platform.ChannelMention(logCh)),
	})
	return p, nil
}

func (c *Coordinator) setupChannel(ctx context.Context, guildID, channelID, defaultName, topic string) (string, error) {
	if channelID != "" {
		ch, err := c.platform.Channel(ctx, channelID)
		if err != nil {
			return "", platformErr(err)
		}
		if ch.GuildID != guildID {
			return "", apperr.New(apperr.KindPermissionDenied)
		}
		return ch.ID, nil
	}
	ch, err := platform.EnsureChannel(ctx, c.platform, guildID, platform.ChannelSpec{Name: defaultName, Topic: topic})
	if err != nil {
		return "", platformErr(err)
	}
	return ch.ID, nil
}

// AssignFlag gives a flag to a role. The flag must be available and the role
// must not already hold another flag on the map.
func (c *Coordinator) AssignFlag(ctx context.Context, guildID, mapKey, flagRaw, roleID, actorID string) (*storage.Flag, error) {
	return c.assign(ctx, guildID, mapKey, flagRaw, roleID, actorID, "")
}

// AssignChecked is AssignFlag for the interactive selector: seen is the
// status the user was shown, and any change since then is StaleState.
func (c *Coordinator) AssignChecked(ctx context.Context, guildID, mapKey, flagRaw, roleID, actorID string, seen storage.FlagStatus) (*storage.Flag, error) {
	return c.assign(ctx, guildID, mapKey, flagRaw, roleID, actorID, seen)
}

func (c *Coordinator) assign(ctx context.Context, guildID, mapKey, flagRaw, roleID, actorID string, seen storage.FlagStatus) (*storage.Flag, error) {
	info, err := c.catalog.Map(mapKey)
	if err != nil {
		return nil, err
	}
	name, err := c.catalog.Canonical(flagRaw)
	if err != nil {
		return nil, err
	}
	role, err := c.role(ctx, guildID, roleID)
	if err != nil {
		return nil, err
	}

	unlock, err := c.lockMap(ctx, guildID, info.Key)
	if err != nil {
		return nil, err
	}
	err = func() error {
		defer unlock()

		current, err := c.currentFlag(ctx, guildID, info.Key, name)
		if err != nil {
			return err
		}
		if seen != "" && current.Status != seen {
			return &apperr.Error{Kind: apperr.KindStaleState, Flag: name, OwnerRoleID: current.OwnerRoleID}
		}
		if current.Claimed() {
			return apperr.AlreadyClaimed(name, current.OwnerRoleID)
		}
		if err := c.checkRoleFree(ctx, guildID, info.Key, role.ID, ""); err != nil {
			return err
		}
		return c.store.ClaimFlag(ctx, guildID, info.Key, name, role.ID)
	}()
	if err != nil {
		return nil, err
	}

	c.refresh(ctx, guildID, info.Key)
	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Map:     info.Key,
		Action:  audit.ActionFlagAssigned,
		Faction: c.factionOnMap(ctx, guildID, info.Key, role.ID),
		UserID:  actorID,
		Details: fmt.Sprintf("%s on %s assigned to %s", name, info.Name, platform.RoleMention(role.ID)),
	})

	return &storage.Flag{GuildID: guildID, Map: info.Key, Name: name, Status: storage.StatusClaimed, OwnerRoleID: role.ID}, nil
}

// ReleaseFlag makes a claimed flag available again. It returns the row as it
// was before the release.
func (c *Coordinator) ReleaseFlag(ctx context.Context, guildID, mapKey, flagRaw, actorID string) (*storage.Flag, error) {
	info, err := c.catalog.Map(mapKey)
	if err != nil {
		return nil, err
	}
	name, err := c.catalog.Canonical(flagRaw)
	if err != nil {
		return nil, err
	}

	unlock, err := c.lockMap(ctx, guildID, info.Key)
	if err != nil {
		return nil, err
	}
	prev, err := func() (*storage.Flag, error) {
		defer unlock()
		return c.releaseLocked(ctx, guildID, info.Key, name)
	}()
	if err != nil {
		return nil, err
	}

	c.refresh(ctx, guildID, info.Key)
	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Map:     info.Key,
		Action:  audit.ActionFlagReleased,
		Faction: c.factionOnMap(ctx, guildID, info.Key, prev.OwnerRoleID),
		UserID:  actorID,
		Details: fmt.Sprintf("%s on %s released from %s", name, info.Name, platform.RoleMention(prev.OwnerRoleID)),
	})
	return prev, nil
}

// releaseLocked releases a flag; the caller holds the map latch
func (c *Coordinator) releaseLocked(ctx context.Context, guildID, mapKey, name string) (*storage.Flag, error) {
	current, err := c.currentFlag(ctx, guildID, mapKey, name)
	if err != nil {
		return nil, err
	}
	if !current.Claimed() {
		return nil, &apperr.Error{Kind: apperr.KindAlreadyAvailable, Flag: name}
	}
	if err := c.store.ReleaseFlag(ctx, guildID, mapKey, name); err != nil {
		return nil, err
	}
	return current, nil
}

// ReassignFlag moves a claimed flag to another role. It returns the new row
// and the previous owner.
func (c *Coordinator) ReassignFlag(ctx context.Context, guildID, mapKey, flagRaw, newRoleID, actorID string) (*storage.Flag, string, error) {
	info, err := c.catalog.Map(mapKey)
	if err != nil {
		return nil, "", err
	}
	name, err := c.catalog.Canonical(flagRaw)
	if err != nil {
		return nil, "", err
	}
	role, err := c.role(ctx, guildID, newRoleID)
	if err != nil {
		return nil, "", err
	}

	unlock, err := c.lockMap(ctx, guildID, info.Key)
	if err != nil {
		return nil, "", err
	}
	prevOwner, err := func() (string, error) {
		defer unlock()

		current, err := c.currentFlag(ctx, guildID, info.Key, name)
		if err != nil {
			return "", err
		}
		if !current.Claimed() {
			return "", &apperr.Error{Kind: apperr.KindNotClaimed, Flag: name}
		}
		if current.OwnerRoleID == role.ID {
			return "", &apperr.Error{Kind: apperr.KindSameRole, Flag: name, OwnerRoleID: role.ID}
		}
		if err := c.checkRoleFree(ctx, guildID, info.Key, role.ID, name); err != nil {
			return "", err
		}
		if err := c.store.ReassignFlag(ctx, guildID, info.Key, name, role.ID); err != nil {
			return "", err
		}
		return current.OwnerRoleID, nil
	}()
	if err != nil {
		return nil, "", err
	}

	c.refresh(ctx, guildID, info.Key)
	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Map:     info.Key,
		Action:  audit.ActionFlagReassigned,
		Faction: c.factionOnMap(ctx, guildID, info.Key, role.ID),
		UserID:  actorID,
		Details: fmt.Sprintf("%s on %s moved from %s to %s", name, info.Name,
			platform.RoleMention(prevOwner), platform.RoleMention(role.ID)),
	})

	return &storage.Flag{GuildID: guildID, Map: info.Key, Name: name, Status: storage.StatusClaimed, OwnerRoleID: role.ID}, prevOwner, nil
}

// ResetMap releases every flag on the map and clears every faction claim
// there. Resetting an already clean map is a no-op.
func (c *Coordinator) ResetMap(ctx context.Context, guildID, mapKey, actorID string) error {
	info, err := c.catalog.Map(mapKey)
	if err != nil {
		return err
	}

	unlock, err := c.lockMap(ctx, guildID, info.Key)
	if err != nil {
		return err
	}
	err = c.store.ResetMap(ctx, guildID, info.Key)
	unlock()
	if err != nil {
		return err
	}

	c.refresh(ctx, guildID, info.Key)
	c.record(ctx, audit.Entry{
		GuildID: guildID,
		Map:     info.Key,
		Action:  audit.ActionMapReset,
		UserID:  actorID,
		Details: fmt.Sprintf("All %s flags reset to available", info.Name),
	})
	return nil
}

// FlagStatus lists every flag on a map in name order. Reads take no latch.
func (c *Coordinator) FlagStatus(ctx context.Context, guildID, mapKey string) ([]*storage.Flag, error) {
	info, err := c.catalog.Map(mapKey)
	if err != nil {
		return nil, err
	}
	flags, err := c.store.ListFlags(ctx, guildID, info.Key)
	if err != nil {
		return nil, err
	}
	if len(flags) > 0 {
		return flags, nil
	}
	// Map never set up: report the catalog as available.
	for _, name := range c.catalog.Flags() {
		flags = append(flags, &storage.Flag{GuildID: guildID, Map: info.Key, Name: name, Status: storage.StatusAvailable})
	}
	return flags, nil
}

