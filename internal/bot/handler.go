package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/activity"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/audit"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/coord"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/panel"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
)

// Services are the components commands are dispatched to
type Services struct {
	Coord    *coord.Coordinator
	Panels   *panel.Materializer
	Sessions *panel.Sessions
	Activity *activity.Poller
	Audit    coord.Auditor
	Platform platform.Platform
}

// Args are a command's options by name. Every option type is carried as its
// string form; ids stay ids.
type Args map[string]string

// Int returns an integer option, or def when absent or malformed
func (a Args) Int(name string, def int) int {
	v, err := strconv.Atoi(a[name])
	if err != nil {
		return def
	}
	return v
}

// Invocation is one slash command
type Invocation struct {
	GuildID string
	UserID  string
	Admin   bool
	Name    string
	Args    Args
}

// Press is one component interaction on a panel or selector
type Press struct {
	GuildID   string
	UserID    string
	Admin     bool
	MessageID string
	CustomID  string
	Values    []string
}

// Reply is what gets written back to the invoking user
type Reply struct {
	Content    string
	Embeds     []*discordgo.MessageEmbed
	Components []discordgo.MessageComponent
}

func text(format string, args ...any) Reply {
	return Reply{Content: truncate(fmt.Sprintf(format, args...))}
}

// Handler executes commands and component presses independently of the
// gateway connection
type Handler struct {
	Services
	commands map[string]commandFunc
}

type commandFunc func(ctx context.Context, inv Invocation) (Reply, error)

// NewHandler creates a Handler
func NewHandler(svc Services) *Handler {
	h := &Handler{Services: svc}
	h.commands = map[string]commandFunc{
		"setup":                 h.setup,
		"assign":                h.assign,
		"release":               h.release,
		"reassign":              h.reassign,
		"reset":                 h.reset,
		"flag-status":           h.flagStatus,
		"faction-create":        h.factionCreate,
		"faction-delete":        h.factionDelete,
		"faction-list":          h.factionList,
		"faction-sync":          h.factionSync,
		"faction-sync-claims":   h.factionSyncClaims,
		"faction-add-member":    h.factionAddMember,
		"faction-remove-member": h.factionRemoveMember,
		"activity-check":        h.activityCheck,
	}
	return h
}

// Command runs a slash command. Failures are rendered into the reply and
// recorded in the audit log; they never escape.
func (h *Handler) Command(ctx context.Context, inv Invocation) Reply {
	fn, ok := h.commands[inv.Name]
	if !ok {
		slog.Warn("Unknown command", "command", inv.Name)
		return text("❌ Unknown command `%s`.", inv.Name)
	}
	if !inv.Admin {
		return h.fail(ctx, inv.GuildID, inv.UserID, inv.Args["map"], "/"+inv.Name, apperr.New(apperr.KindPermissionDenied))
	}

	reply, err := fn(ctx, inv)
	if err != nil {
		return h.fail(ctx, inv.GuildID, inv.UserID, inv.Args["map"], "/"+inv.Name, err)
	}
	return reply
}

// fail renders err and appends it to the audit log with its kind first
func (h *Handler) fail(ctx context.Context, guildID, userID, mapKey, what string, err error) Reply {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		slog.Error("Command failed", "guildID", guildID, "command", what, "error", err)
	} else {
		slog.Info("Command rejected", "guildID", guildID, "command", what, "kind", kind.String(), "error", err)
	}

	if h.Audit != nil {
		// Only route to a map log channel for maps that exist.
		if _, mErr := h.Coord.Catalog().Map(mapKey); mErr != nil {
			mapKey = ""
		}
		_ = h.Audit.Log(ctx, audit.Entry{
			GuildID: guildID,
			Map:     mapKey,
			Action:  audit.ActionError,
			UserID:  userID,
			Details: fmt.Sprintf("%s: %s: %v", kind, what, err),
		})
	}
	return Reply{Content: renderError(err), Components: []discordgo.MessageComponent{}}
}

// roleNames maps the guild's role ids to names. Failures yield an empty map.
func (h *Handler) roleNames(ctx context.Context, guildID string) map[string]string {
	names := make(map[string]string)
	roles, err := h.Platform.GuildRoles(ctx, guildID)
	if err != nil {
		slog.Warn("Failed to list roles", "guildID", guildID, "error", err)
		return names
	}
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	return names
}
