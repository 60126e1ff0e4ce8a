package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rodaine/table"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/activity"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// maxContent is the platform's message length limit
const maxContent = 2000

// renderError turns an error into the message shown to the admin
func renderError(err error) string {
	if errors.Is(err, activity.ErrNotCategory) {
		return "❌ That channel is not a category."
	}
	if errors.Is(err, activity.ErrStopped) {
		return "❌ The bot is shutting down; the activity check was not started."
	}

	e, ok := apperr.As(err)
	if !ok {
		return "❌ Something went wrong. The error has been logged."
	}
	switch e.Kind {
	case apperr.KindInvalidFlag:
		return fmt.Sprintf("❌ `%s` is not a valid flag.", e.Flag)
	case apperr.KindInvalidMap:
		return fmt.Sprintf("❌ `%s` is not a known map.", e.Name)
	case apperr.KindWrongGuildRole:
		return "❌ That role does not belong to this server."
	case apperr.KindAlreadyClaimed:
		return fmt.Sprintf("❌ **%s** is already claimed by %s.", e.Flag, platform.RoleMention(e.OwnerRoleID))
	case apperr.KindAlreadyAvailable:
		return fmt.Sprintf("⚠️ **%s** is already available.", flagOr(e))
	case apperr.KindNotClaimed:
		return fmt.Sprintf("⚠️ **%s** is not claimed by anyone.", flagOr(e))
	case apperr.KindSameRole:
		return fmt.Sprintf("⚠️ That role already owns **%s**.", flagOr(e))
	case apperr.KindRoleAlreadyOwnsFlag:
		return fmt.Sprintf("❌ That role already owns **%s** on this map. Release it first.", flagOr(e))
	case apperr.KindFactionNotFound:
		return fmt.Sprintf("❌ No faction named `%s` exists.", e.Name)
	case apperr.KindFactionExists:
		if e.Name == "" {
			return "❌ That faction already exists."
		}
		return fmt.Sprintf("❌ A faction named `%s` already exists.", e.Name)
	case apperr.KindPermissionDenied:
		return "⛔ Permission denied. This needs administrator rights, and the bot needs to manage roles and channels."
	case apperr.KindStoreUnavailable:
		return "⚠️ The database is unavailable right now. Please try again shortly."
	case apperr.KindStaleState:
		return "⚠️ That selection is out of date. Please start again."
	case apperr.KindCreationFailed:
		msg := "❌ Faction creation failed and was rolled back."
		if len(e.Partial) > 0 {
			msg += "\nCould not undo: " + strings.Join(e.Partial, ", ")
		}
		return msg
	case apperr.KindBusySession:
		return "⏳ Someone else is using this panel. Try again in a minute."
	}
	return "❌ Something went wrong. The error has been logged."
}

func flagOr(e *apperr.Error) string {
	if e.Flag == "" {
		return "That flag"
	}
	return e.Flag
}

// flagTable renders the state of one map. roleNames maps role ids to names;
// unknown ids are shown raw.
func flagTable(flags []*storage.Flag, roleNames map[string]string) string {
	var sb strings.Builder
	t := table.New("Flag", "Status", "Owner").WithWriter(&sb)
	claimed := 0
	for _, f := range flags {
		owner := "-"
		status := "free"
		if f.Claimed() {
			claimed++
			status = "claimed"
			owner = roleName(roleNames, f.OwnerRoleID)
		}
		t.AddRow(f.Name, status, owner)
	}
	t.Print()
	return fmt.Sprintf("```\n%s```\n%d/%d flags claimed", sb.String(), claimed, len(flags))
}

// factionTable renders the tracked factions of a guild
func factionTable(factions []*storage.Faction) string {
	if len(factions) == 0 {
		return "No factions are tracked yet."
	}
	var sb strings.Builder
	t := table.New("Faction", "Map", "Flag", "Members").WithWriter(&sb)
	for _, f := range factions {
		flag := f.ClaimedFlag
		if flag == "" {
			flag = "-"
		}
		t.AddRow(f.Name, f.Map, flag, len(f.MemberIDs))
	}
	t.Print()
	return "```\n" + sb.String() + "```"
}

func roleName(names map[string]string, id string) string {
	if n, ok := names[id]; ok {
		return "@" + n
	}
	return id
}

var (
	roleMentionPattern = regexp.MustCompile(`<@&\d+>`)
	userIDPattern      = regexp.MustCompile(`\d{15,21}`)
)

// parseMembers extracts user ids from a free-form list of mentions or raw
// ids. Role mentions are ignored and duplicates dropped.
func parseMembers(s string) []string {
	s = roleMentionPattern.ReplaceAllString(s, " ")
	seen := make(map[string]bool)
	var ids []string
	for _, id := range userIDPattern.FindAllString(s, -1) {
		if seen[id] || !platform.ValidID(id) {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// truncate keeps content within the platform's message limit
func truncate(s string) string {
	if len(s) <= maxContent {
		return s
	}
	const suffix = "\n…"
	cut := maxContent - len(suffix)
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
