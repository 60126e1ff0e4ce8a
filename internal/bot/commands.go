package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/activity"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/coord"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// buildMapChoices creates the map selection choices for slash commands
func buildMapChoices(cat *catalog.Catalog) []*discordgo.ApplicationCommandOptionChoice {
	maps := cat.Maps()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, len(maps))
	for i, m := range maps {
		choices[i] = &discordgo.ApplicationCommandOptionChoice{
			Name:  m.Name,
			Value: m.Key,
		}
	}
	return choices
}

func mapOption(cat *catalog.Catalog, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "map",
		Description: "The map",
		Required:    required,
		Choices:     buildMapChoices(cat),
	}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func roleOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func userOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func channelOption(name, description string, required bool, kind discordgo.ChannelType) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         name,
		Description:  description,
		Required:     required,
		ChannelTypes: []discordgo.ChannelType{kind},
	}
}

func intOption(name, description string, minValue float64) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		MinValue:    &minValue,
	}
}

// commandDefinitions returns every slash command. All of them are limited to
// administrators.
func commandDefinitions(cat *catalog.Catalog) []*discordgo.ApplicationCommand {
	var adminOnly int64 = discordgo.PermissionAdministrator
	noDM := false

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "setup",
			Description: "Create or refresh the flag panel for a map",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, true),
				channelOption("flags_channel", "Channel for the panel (default flags-<map>)", false, discordgo.ChannelTypeGuildText),
				channelOption("log_channel", "Channel for flag activity (default flag-logs-<map>)", false, discordgo.ChannelTypeGuildText),
			},
		},
		{
			Name:        "assign",
			Description: "Assign a flag to a role",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, true),
				stringOption("flag", "Flag name", true),
				roleOption("role", "Role that will own the flag", true),
			},
		},
		{
			Name:        "release",
			Description: "Make a claimed flag available again",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, true),
				stringOption("flag", "Flag name", true),
			},
		},
		{
			Name:        "reassign",
			Description: "Move a claimed flag to another role",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, true),
				stringOption("flag", "Flag name", true),
				roleOption("role", "New owner", true),
			},
		},
		{
			Name:        "reset",
			Description: "Make every flag on a map available",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, true),
			},
		},
		{
			Name:        "flag-status",
			Description: "Show who holds each flag on a map",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, true),
			},
		},
		{
			Name:        "faction-create",
			Description: "Create a faction with its own role and channel",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, true),
				stringOption("name", "Faction name", true),
				userOption("leader", "Faction leader", true),
				stringOption("members", "Members as mentions", false),
				stringOption("color", "Role color, e.g. #E67E22", false),
				stringOption("flag", "Flag to claim for the faction", false),
			},
		},
		{
			Name:        "faction-delete",
			Description: "Delete a faction, its role and its channel",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("name", "Faction name", true),
			},
		},
		{
			Name:        "faction-list",
			Description: "List tracked factions",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, false),
			},
		},
		{
			Name:        "faction-sync",
			Description: "Start tracking an existing role and channel as a faction",
			Options: []*discordgo.ApplicationCommandOption{
				mapOption(cat, true),
				roleOption("role", "The faction's role", true),
				channelOption("channel", "The faction's channel", true, discordgo.ChannelTypeGuildText),
				stringOption("flag", "Flag to claim for the faction", false),
				userOption("leader", "Faction leader", false),
			},
		},
		{
			Name:        "faction-sync-claims",
			Description: "Rebuild faction claims from the flag table",
		},
		{
			Name:        "faction-add-member",
			Description: "Add a member to a faction",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("name", "Faction name", true),
				userOption("user", "Member to add", true),
			},
		},
		{
			Name:        "faction-remove-member",
			Description: "Remove a member from a faction",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("name", "Faction name", true),
				userOption("user", "Member to remove", true),
			},
		},
		{
			Name:        "activity-check",
			Description: "Post an activity poll in every channel of a category",
			Options: []*discordgo.ApplicationCommandOption{
				channelOption("category", "Category holding the faction channels", true, discordgo.ChannelTypeGuildCategory),
				roleOption("role", "Role to ping instead of matching by channel name", false),
				intOption("hours", "How long the poll stays open", 1),
				intOption("threshold", "Confirmations needed to pass", 1),
			},
		},
	}

	for _, c := range cmds {
		c.DefaultMemberPermissions = &adminOnly
		c.DMPermission = &noDM
	}
	return cmds
}

// argsFrom flattens interaction options into Args
func argsFrom(opts []*discordgo.ApplicationCommandInteractionDataOption) Args {
	args := make(Args, len(opts))
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionInteger:
			args[o.Name] = fmt.Sprint(o.IntValue())
		case discordgo.ApplicationCommandOptionBoolean:
			args[o.Name] = fmt.Sprint(o.BoolValue())
		default:
			args[o.Name] = fmt.Sprint(o.Value)
		}
	}
	return args
}

func (h *Handler) mapName(key string) string {
	if m, err := h.Coord.Catalog().Map(key); err == nil {
		return m.Name
	}
	return key
}

func withWarnings(msg string, warnings []string) string {
	for _, w := range warnings {
		msg += "\n⚠️ " + w
	}
	return msg
}

// setup handles the /setup command
func (h *Handler) setup(ctx context.Context, inv Invocation) (Reply, error) {
	row, err := h.Coord.Setup(ctx, coord.SetupRequest{
		GuildID:        inv.GuildID,
		Map:            inv.Args["map"],
		FlagsChannelID: inv.Args["flags_channel"],
		LogChannelID:   inv.Args["log_channel"],
		ActorID:        inv.UserID,
	})
	if err != nil {
		return Reply{}, err
	}

	msg := fmt.Sprintf("✅ Flag panel for **%s** is live in %s.", h.mapName(row.Map), platform.ChannelMention(row.ChannelID))
	if row.LogChannelID != "" {
		msg += fmt.Sprintf(" Flag activity is logged to %s.", platform.ChannelMention(row.LogChannelID))
	}
	return text("%s", msg), nil
}

func (h *Handler) assign(ctx context.Context, inv Invocation) (Reply, error) {
	f, err := h.Coord.AssignFlag(ctx, inv.GuildID, inv.Args["map"], inv.Args["flag"], inv.Args["role"], inv.UserID)
	if err != nil {
		return Reply{}, err
	}
	return text("✅ **%s** on **%s** is now owned by %s.", f.Name, h.mapName(f.Map), platform.RoleMention(f.OwnerRoleID)), nil
}

func (h *Handler) release(ctx context.Context, inv Invocation) (Reply, error) {
	prev, err := h.Coord.ReleaseFlag(ctx, inv.GuildID, inv.Args["map"], inv.Args["flag"], inv.UserID)
	if err != nil {
		return Reply{}, err
	}
	return text("✅ **%s** on **%s** was released from %s and is available again.", prev.Name, h.mapName(prev.Map), platform.RoleMention(prev.OwnerRoleID)), nil
}

func (h *Handler) reassign(ctx context.Context, inv Invocation) (Reply, error) {
	f, prevOwner, err := h.Coord.ReassignFlag(ctx, inv.GuildID, inv.Args["map"], inv.Args["flag"], inv.Args["role"], inv.UserID)
	if err != nil {
		return Reply{}, err
	}
	return text("🔁 **%s** on **%s** moved from %s to %s.", f.Name, h.mapName(f.Map), platform.RoleMention(prevOwner), platform.RoleMention(f.OwnerRoleID)), nil
}

func (h *Handler) reset(ctx context.Context, inv Invocation) (Reply, error) {
	if err := h.Coord.ResetMap(ctx, inv.GuildID, inv.Args["map"], inv.UserID); err != nil {
		return Reply{}, err
	}
	return text("♻️ Every flag on **%s** is available again.", h.mapName(inv.Args["map"])), nil
}

func (h *Handler) flagStatus(ctx context.Context, inv Invocation) (Reply, error) {
	flags, err := h.Coord.FlagStatus(ctx, inv.GuildID, inv.Args["map"])
	if err != nil {
		return Reply{}, err
	}
	return text("**%s**\n%s", h.mapName(inv.Args["map"]), flagTable(flags, h.roleNames(ctx, inv.GuildID))), nil
}

func (h *Handler) factionCreate(ctx context.Context, inv Invocation) (Reply, error) {
	color, err := storage.ParseColor(inv.Args["color"])
	if err != nil {
		return text("❌ %v. Use a hex color such as `#E67E22`.", err), nil
	}

	f, err := h.Coord.CreateFaction(ctx, coord.CreateFactionRequest{
		GuildID:   inv.GuildID,
		Map:       inv.Args["map"],
		Name:      strings.TrimSpace(inv.Args["name"]),
		Flag:      inv.Args["flag"],
		LeaderID:  inv.Args["leader"],
		MemberIDs: parseMembers(inv.Args["members"]),
		Color:     color,
		ActorID:   inv.UserID,
	})
	if err != nil {
		return Reply{}, err
	}

	msg := fmt.Sprintf("✅ Faction **%s** created on **%s** with role %s and channel %s (%d members).",
		f.Name, h.mapName(f.Map), platform.RoleMention(f.RoleID), platform.ChannelMention(f.ChannelID), len(f.MemberIDs))
	if f.ClaimedFlag != "" {
		msg += fmt.Sprintf("\nIt now holds **%s**.", f.ClaimedFlag)
	}
	return text("%s", msg), nil
}

func (h *Handler) factionDelete(ctx context.Context, inv Invocation) (Reply, error) {
	f, warnings, err := h.Coord.DeleteFaction(ctx, inv.GuildID, inv.Args["name"], inv.UserID)
	if err != nil {
		return Reply{}, err
	}

	msg := fmt.Sprintf("🗑️ Faction **%s** deleted.", f.Name)
	if f.ClaimedFlag != "" {
		msg += fmt.Sprintf(" **%s** on **%s** is available again.", f.ClaimedFlag, h.mapName(f.Map))
	}
	return text("%s", withWarnings(msg, warnings)), nil
}

func (h *Handler) factionList(ctx context.Context, inv Invocation) (Reply, error) {
	factions, err := h.Coord.ListFactions(ctx, inv.GuildID, inv.Args["map"])
	if err != nil {
		return Reply{}, err
	}
	return text("%s", factionTable(factions)), nil
}

func (h *Handler) factionSync(ctx context.Context, inv Invocation) (Reply, error) {
	f, err := h.Coord.SyncFaction(ctx, coord.SyncFactionRequest{
		GuildID:   inv.GuildID,
		Map:       inv.Args["map"],
		RoleID:    inv.Args["role"],
		ChannelID: inv.Args["channel"],
		Flag:      inv.Args["flag"],
		LeaderID:  inv.Args["leader"],
		ActorID:   inv.UserID,
	})
	if err != nil {
		return Reply{}, err
	}

	msg := fmt.Sprintf("🔗 Faction **%s** is now tracked on **%s** with %d members, led by %s.",
		f.Name, h.mapName(f.Map), len(f.MemberIDs), platform.UserMention(f.LeaderID))
	if f.ClaimedFlag != "" {
		msg += fmt.Sprintf("\nIt holds **%s**.", f.ClaimedFlag)
	} else if inv.Args["flag"] != "" {
		msg += fmt.Sprintf("\n⚠️ `%s` was not claimed; it is taken or the role already holds a flag.", inv.Args["flag"])
	}
	return text("%s", msg), nil
}

func (h *Handler) factionSyncClaims(ctx context.Context, inv Invocation) (Reply, error) {
	n, err := h.Coord.SyncFactionClaims(ctx, inv.GuildID, inv.UserID)
	if err != nil {
		return Reply{}, err
	}
	if n == 0 {
		return text("🔄 Faction claims already match the flag table."), nil
	}
	return text("🔄 Updated %d faction claim(s) from the flag table.", n), nil
}

func (h *Handler) factionAddMember(ctx context.Context, inv Invocation) (Reply, error) {
	f, warnings, err := h.Coord.AddMember(ctx, inv.GuildID, inv.Args["name"], inv.Args["user"], inv.UserID)
	if err != nil {
		return Reply{}, err
	}
	msg := fmt.Sprintf("✅ %s joined **%s** (%d members).", platform.UserMention(inv.Args["user"]), f.Name, len(f.MemberIDs))
	return text("%s", withWarnings(msg, warnings)), nil
}

func (h *Handler) factionRemoveMember(ctx context.Context, inv Invocation) (Reply, error) {
	f, warnings, err := h.Coord.RemoveMember(ctx, inv.GuildID, inv.Args["name"], inv.Args["user"], inv.UserID)
	if err != nil {
		return Reply{}, err
	}
	msg := fmt.Sprintf("✅ %s left **%s** (%d members).", platform.UserMention(inv.Args["user"]), f.Name, len(f.MemberIDs))
	return text("%s", withWarnings(msg, warnings)), nil
}

func (h *Handler) activityCheck(ctx context.Context, inv Invocation) (Reply, error) {
	req := activity.Request{
		GuildID:    inv.GuildID,
		CategoryID: inv.Args["category"],
		RoleID:     inv.Args["role"],
		Threshold:  inv.Args.Int("threshold", 0),
		ActorID:    inv.UserID,
	}
	if hours := inv.Args.Int("hours", 0); hours > 0 {
		req.Expiry = time.Duration(hours) * time.Hour
	}

	n, err := h.Activity.Start(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	if n == 0 {
		return text("⚠️ No text channels found under %s.", platform.ChannelMention(req.CategoryID)), nil
	}
	return text("📋 Activity poll posted in %d channel(s). Results go to the alerts channel when it closes.", n), nil
}
