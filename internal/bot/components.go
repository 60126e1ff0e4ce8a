package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/panel"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

// IsButton reports whether a component id opens a new selector rather than
// advancing an existing one
func IsButton(customID string) bool {
	action, _, _, ok := panel.ParseCustomID(customID)
	return ok && (action == panel.ActionAssign || action == panel.ActionRelease)
}

// Component runs a panel button or selector step. Failures end the session,
// are rendered into the reply and are audited.
func (h *Handler) Component(ctx context.Context, p Press) Reply {
	action, arg, n, ok := panel.ParseCustomID(p.CustomID)
	if !ok {
		return text("❌ Unknown control.")
	}
	if !p.Admin {
		return h.fail(ctx, p.GuildID, p.UserID, "", "panel "+action, apperr.New(apperr.KindPermissionDenied))
	}

	var (
		reply  Reply
		mapKey string
		err    error
	)
	switch action {
	case panel.ActionAssign, panel.ActionRelease:
		mapKey = arg
		reply, err = h.openSelector(ctx, p, action, arg)
	case panel.ActionPickFlag, panel.ActionPickRole, panel.ActionPickRelease, panel.ActionPage:
		var sess panel.Session
		sess, err = h.Sessions.Get(arg, p.UserID)
		if err == nil {
			mapKey = sess.Map
			reply, err = h.step(ctx, p, action, n, sess)
			if err != nil {
				h.Sessions.End(sess.Token)
			}
		}
	default:
		return text("❌ Unknown control.")
	}
	if err != nil {
		return h.fail(ctx, p.GuildID, p.UserID, mapKey, "panel "+action, err)
	}
	return reply
}

// openSelector starts a session from a panel button and shows the first
// selector
func (h *Handler) openSelector(ctx context.Context, p Press, action, mapKey string) (Reply, error) {
	binding, ok := h.Panels.Bound(p.MessageID)
	if !ok || binding.GuildID != p.GuildID || binding.Map != mapKey {
		return Reply{}, apperr.New(apperr.KindStaleState)
	}

	kind := panel.SessionAssign
	if action == panel.ActionRelease {
		kind = panel.SessionRelease
	}
	sess, err := h.Sessions.Begin(p.GuildID, mapKey, p.UserID, kind)
	if err != nil {
		return Reply{}, err
	}

	reply, err := h.selector(ctx, sess, 0)
	if err != nil {
		h.Sessions.End(sess.Token)
	}
	return reply, err
}

// selector renders the menus for the session's current step. A step with
// nothing to choose from ends the session.
func (h *Handler) selector(ctx context.Context, sess panel.Session, page int) (Reply, error) {
	name := h.mapName(sess.Map)
	var (
		action, placeholder string
		prompt, empty       string
		options             []panel.Option
	)

	switch {
	case sess.Kind == panel.SessionRelease:
		flags, err := h.Coord.FlagStatus(ctx, sess.GuildID, sess.Map)
		if err != nil {
			return Reply{}, err
		}
		names := h.roleNames(ctx, sess.GuildID)
		for _, f := range flags {
			if f.Claimed() {
				options = append(options, panel.Option{Label: fmt.Sprintf("%s (%s)", f.Name, roleName(names, f.OwnerRoleID)), Value: f.Name})
			}
		}
		action, placeholder = panel.ActionPickRelease, "Claimed flags"
		prompt = fmt.Sprintf("Choose a flag to release on **%s**.", name)
		empty = fmt.Sprintf("No flags on **%s** are claimed.", name)

	case sess.Flag == "":
		flags, err := h.Coord.FlagStatus(ctx, sess.GuildID, sess.Map)
		if err != nil {
			return Reply{}, err
		}
		for _, f := range flags {
			if !f.Claimed() {
				options = append(options, panel.Option{Label: f.Name, Value: f.Name})
			}
		}
		action, placeholder = panel.ActionPickFlag, "Available flags"
		prompt = fmt.Sprintf("Choose a flag to assign on **%s**.", name)
		empty = fmt.Sprintf("Every flag on **%s** is claimed.", name)

	default:
		factions, err := h.Coord.ListFactions(ctx, sess.GuildID, sess.Map)
		if err != nil {
			return Reply{}, err
		}
		for _, f := range factions {
			if f.ClaimedFlag == "" {
				options = append(options, panel.Option{Label: f.Name, Value: f.RoleID})
			}
		}
		action, placeholder = panel.ActionPickRole, "Factions without a flag"
		prompt = fmt.Sprintf("Who gets **%s**?", sess.Flag)
		empty = fmt.Sprintf("No faction on **%s** is without a flag. Use `/assign` for other roles.", name)
	}

	if len(options) == 0 {
		h.Sessions.End(sess.Token)
		return Reply{Content: empty, Components: []discordgo.MessageComponent{}}, nil
	}
	return Reply{
		Content:    prompt,
		Components: panel.Select(action, sess.Token, placeholder, options, page),
	}, nil
}

// step advances a session by one selector choice or page change
func (h *Handler) step(ctx context.Context, p Press, action string, page int, sess panel.Session) (Reply, error) {
	if action == panel.ActionPage {
		return h.selector(ctx, sess, page)
	}
	if len(p.Values) == 0 {
		return Reply{}, apperr.New(apperr.KindStaleState)
	}
	choice := p.Values[0]

	switch action {
	case panel.ActionPickFlag:
		if sess.Kind != panel.SessionAssign || sess.Flag != "" {
			return Reply{}, apperr.New(apperr.KindStaleState)
		}
		// The first selector only listed available flags.
		if err := h.Sessions.Pick(sess.Token, choice, storage.StatusAvailable); err != nil {
			return Reply{}, err
		}
		sess.Flag, sess.Seen = choice, storage.StatusAvailable
		return h.selector(ctx, sess, 0)

	case panel.ActionPickRole:
		if sess.Kind != panel.SessionAssign || sess.Flag == "" {
			return Reply{}, apperr.New(apperr.KindStaleState)
		}
		f, err := h.Coord.AssignChecked(ctx, sess.GuildID, sess.Map, sess.Flag, choice, p.UserID, sess.Seen)
		if err != nil {
			return Reply{}, err
		}
		h.Sessions.End(sess.Token)
		return Reply{
			Content:    fmt.Sprintf("✅ **%s** on **%s** is now owned by %s.", f.Name, h.mapName(f.Map), platform.RoleMention(f.OwnerRoleID)),
			Components: []discordgo.MessageComponent{},
		}, nil

	case panel.ActionPickRelease:
		if sess.Kind != panel.SessionRelease {
			return Reply{}, apperr.New(apperr.KindStaleState)
		}
		prev, err := h.Coord.ReleaseFlag(ctx, sess.GuildID, sess.Map, choice, p.UserID)
		if err != nil {
			return Reply{}, err
		}
		h.Sessions.End(sess.Token)
		return Reply{
			Content:    fmt.Sprintf("✅ **%s** on **%s** was released from %s.", prev.Name, h.mapName(prev.Map), platform.RoleMention(prev.OwnerRoleID)),
			Components: []discordgo.MessageComponent{},
		}, nil
	}
	return Reply{}, apperr.New(apperr.KindStaleState)
}
