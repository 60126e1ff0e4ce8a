package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlagStatus is the persisted state of a flag. The values are the emoji the
// flags table has always stored.
type FlagStatus string

const (
	StatusAvailable FlagStatus = "✅"
	StatusClaimed   FlagStatus = "❌"
)

// Flag is one (guild, map, flag) ownership row
type Flag struct {
	GuildID     string
	Map         string
	Name        string
	Status      FlagStatus
	OwnerRoleID string // empty when available
}

// Claimed reports whether the flag is owned by a role
func (f Flag) Claimed() bool {
	return f.Status == StatusClaimed
}

// Faction is a tracked player group
type Faction struct {
	ID          int64
	GuildID     string
	Map         string
	Name        string
	RoleID      string
	ChannelID   string
	LeaderID    string
	MemberIDs   []string
	Color       int
	ClaimedFlag string // empty when the faction holds no flag
	CreatedAt   time.Time
}

// HasMember reports whether userID is in the member set
func (f *Faction) HasMember(userID string) bool {
	for _, m := range f.MemberIDs {
		if m == userID {
			return true
		}
	}
	return false
}

// Panel is the registry row for a live flag panel
type Panel struct {
	GuildID      string
	Map          string
	ChannelID    string
	MessageID    string
	LogChannelID string
}

// LogEntry is one audit row
type LogEntry struct {
	ID          int64
	GuildID     string
	Action      string
	FactionName string
	UserID      string
	Details     string
	Timestamp   time.Time
}

// FormatColor renders a color the way the factions table stores it
func FormatColor(c int) string {
	return fmt.Sprintf("#%06X", c&0xFFFFFF)
}

// ParseColor accepts "#RRGGBB", "0xRRGGBB", "RRGGBB" or a decimal integer
func ParseColor(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	var (
		v   int64
		err error
	)
	switch {
	case strings.HasPrefix(s, "#"):
		v, err = strconv.ParseInt(s[1:], 16, 32)
	case strings.HasPrefix(strings.ToLower(s), "0x"):
		v, err = strconv.ParseInt(s[2:], 16, 32)
	case len(s) == 6:
		v, err = strconv.ParseInt(s, 16, 32)
		if err != nil {
			v, err = strconv.ParseInt(s, 10, 32)
		}
	default:
		v, err = strconv.ParseInt(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	if v < 0 || v > 0xFFFFFF {
		return 0, fmt.Errorf("color %q out of range", s)
	}
	return int(v), nil
}
