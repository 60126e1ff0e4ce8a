package panel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
	json "github.com/goccy/go-json"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

const panelColor = 0x2F3136

// Mention formats a role reference for display
type Mention func(roleID string) string

// Payload is the rendered content of a flag panel
type Payload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	Footer      string `json:"footer"`
	Color       int    `json:"color"`
}

// Render builds the panel for one map. It is pure: the same inputs always
// produce the same payload.
func Render(m catalog.MapInfo, flags []*storage.Flag, mention Mention) Payload {
	sorted := make([]*storage.Flag, len(flags))
	copy(sorted, flags)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var (
		sb      strings.Builder
		claimed int
	)
	for _, f := range sorted {
		if f.Claimed() && f.OwnerRoleID != "" {
			claimed++
			fmt.Fprintf(&sb, "%s %s — %s\n", storage.StatusClaimed, f.Name, mention(f.OwnerRoleID))
		} else {
			fmt.Fprintf(&sb, "%s %s — Unclaimed\n", storage.StatusAvailable, f.Name)
		}
	}

	return Payload{
		Title:       fmt.Sprintf("%s Flag Ownership", m.Name),
		Description: strings.TrimSuffix(sb.String(), "\n"),
		ImageURL:    m.ImageURL,
		Footer:      fmt.Sprintf("%d/%d flags claimed", claimed, len(sorted)),
		Color:       panelColor,
	}
}

// Embed converts the payload into a platform embed
func (p Payload) Embed() *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       p.Title,
		Description: p.Description,
		Color:       p.Color,
		Footer:      &discordgo.MessageEmbedFooter{Text: p.Footer},
	}
	if p.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: p.ImageURL}
	}
	return embed
}

// Bytes is the canonical encoding of the payload's embed
func (p Payload) Bytes() ([]byte, error) {
	return json.Marshal(p.Embed())
}

// Line returns the description line for flag, or "" if absent
func (p Payload) Line(flag string) string {
	for _, line := range strings.Split(p.Description, "\n") {
		rest := strings.TrimPrefix(strings.TrimPrefix(line, string(storage.StatusClaimed)+" "), string(storage.StatusAvailable)+" ")
		if strings.HasPrefix(rest, flag+" — ") {
			return line
		}
	}
	return ""
}
