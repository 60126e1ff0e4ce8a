package panel

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// Component custom id actions. Ids have the form "panel:<action>:<arg>",
// optionally followed by ":<n>" for ids that need an index.
const (
	ActionAssign      = "assign"
	ActionRelease     = "release"
	ActionPickFlag    = "pickflag"
	ActionPickRole    = "pickrole"
	ActionPickRelease = "pickrelease"
	ActionPage        = "page"
)

const customIDPrefix = "panel:"

// CustomID builds a component id
func CustomID(action, arg string) string {
	return customIDPrefix + action + ":" + arg
}

// IndexedID builds a component id carrying an index, such as a menu or page
// number
func IndexedID(action, arg string, n int) string {
	return CustomID(action, arg) + ":" + strconv.Itoa(n)
}

// ParseCustomID splits a component id built by CustomID or IndexedID. n is 0
// when the id carries no index.
func ParseCustomID(id string) (action, arg string, n int, ok bool) {
	rest, found := strings.CutPrefix(id, customIDPrefix)
	if !found {
		return "", "", 0, false
	}
	action, arg, ok = strings.Cut(rest, ":")
	if !ok || action == "" || arg == "" {
		return "", "", 0, false
	}
	if head, index, indexed := strings.Cut(arg, ":"); indexed {
		v, err := strconv.Atoi(index)
		if err != nil || v < 0 || head == "" {
			return "", "", 0, false
		}
		arg, n = head, v
	}
	return action, arg, n, true
}

// Controls returns the buttons carried by every panel message
func Controls(mapKey string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Assign Flag",
					Style:    discordgo.SuccessButton,
					CustomID: CustomID(ActionAssign, mapKey),
				},
				discordgo.Button{
					Label:    "Release Flag",
					Style:    discordgo.DangerButton,
					CustomID: CustomID(ActionRelease, mapKey),
				},
			},
		},
	}
}

// Option is one selectable entry
type Option struct {
	Label string
	Value string
}

// Platform limits for a single message
const (
	maxSelectOptions = 25
	maxRows          = 5
)

// Select lays options out as single-choice menus of up to 25 entries, one
// menu per row. Up to five menus fit on one message. Longer lists are split
// into pages of four menus with a row of page buttons; page picks which one
// is shown and is clamped to the valid range. Every menu submits to
// IndexedID(action, token, i).
func Select(action, token, placeholder string, options []Option, page int) []discordgo.MessageComponent {
	menus := chunk(options, maxSelectOptions)
	if len(menus) <= maxRows {
		return menuRows(action, token, placeholder, menus, 0)
	}

	perPage := maxRows - 1
	pages := (len(menus) + perPage - 1) / perPage
	page = max(0, min(page, pages-1))
	first := page * perPage
	last := min(first+perPage, len(menus))

	rows := menuRows(action, token, placeholder, menus[first:last], first)
	return append(rows, discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Previous",
				Style:    discordgo.SecondaryButton,
				CustomID: IndexedID(ActionPage, token, max(page-1, 0)),
				Disabled: page == 0,
			},
			discordgo.Button{
				Label:    fmt.Sprintf("Next (%d/%d)", page+1, pages),
				Style:    discordgo.SecondaryButton,
				CustomID: IndexedID(ActionPage, token, min(page+1, pages-1)),
				Disabled: page == pages-1,
			},
		},
	})
}

func chunk(options []Option, size int) [][]Option {
	var out [][]Option
	for len(options) > size {
		out = append(out, options[:size])
		options = options[size:]
	}
	if len(options) > 0 {
		out = append(out, options)
	}
	return out
}

func menuRows(action, token, placeholder string, menus [][]Option, offset int) []discordgo.MessageComponent {
	one := 1
	split := len(menus) > 1 || offset > 0
	rows := make([]discordgo.MessageComponent, 0, len(menus)+1)
	for i, options := range menus {
		opts := make([]discordgo.SelectMenuOption, 0, len(options))
		for _, o := range options {
			opts = append(opts, discordgo.SelectMenuOption{Label: o.Label, Value: o.Value})
		}
		hint := placeholder
		if split {
			hint = fmt.Sprintf("%s (%s to %s)", placeholder, initial(options[0].Label), initial(options[len(options)-1].Label))
		}
		rows = append(rows, discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    IndexedID(action, token, offset+i),
					Placeholder: hint,
					MinValues:   &one,
					MaxValues:   1,
					Options:     opts,
				},
			},
		})
	}
	return rows
}

func initial(label string) string {
	r, _ := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(r))
}
