package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
)

// MapInfo describes one world that partitions flag state
type MapInfo struct {
	Key      string `yaml:"key"`
	Name     string `yaml:"name"`
	ImageURL string `yaml:"image"`
}

// Catalog holds the valid flag names and the map registry.
// It is immutable once built.
type Catalog struct {
	flags []string
	byKey map[string]string // lower(flag) -> canonical
	maps  []MapInfo
	mapBy map[string]MapInfo
}

// DefaultFlags is the built-in flag catalog
var DefaultFlags = []string{
	"APA", "Altis", "BabyDeer", "Bear", "Bohemia", "BrainZ", "CDF", "CHEL",
	"CMC", "Cannibals", "Chedaki", "Chernarus", "Crook", "DayZ", "HunterZ",
	"Livonia", "LivoniaArmy", "LivoniaPolice", "NAPA", "NSahrani", "Pirates",
	"Refuge", "Rex", "Rooster", "SSahrani", "Snake", "TEC", "UEC", "White",
	"Wolf", "Zagorky", "Zenit",
}

// DefaultMaps is the built-in map registry
var DefaultMaps = []MapInfo{
	{Key: "livonia", Name: "Livonia", ImageURL: "https://raw.githubusercontent.com/BadHairlines/DayZ-Manager/main/assets/maps/livonia.png"},
	{Key: "chernarus", Name: "Chernarus", ImageURL: "https://raw.githubusercontent.com/BadHairlines/DayZ-Manager/main/assets/maps/chernarus.png"},
	{Key: "sakhal", Name: "Sakhal", ImageURL: "https://raw.githubusercontent.com/BadHairlines/DayZ-Manager/main/assets/maps/sakhal.png"},
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := New(DefaultFlags, DefaultMaps)
	if err != nil {
		panic(err)
	}
	return c
}

// New builds a catalog, rejecting empty or case-insensitively duplicated
// names.
func New(flags []string, maps []MapInfo) (*Catalog, error) {
	if len(flags) == 0 {
		return nil, fmt.Errorf("catalog has no flags")
	}
	if len(maps) == 0 {
		return nil, fmt.Errorf("catalog has no maps")
	}

	c := &Catalog{
		byKey: make(map[string]string, len(flags)),
		mapBy: make(map[string]MapInfo, len(maps)),
	}
	for _, f := range flags {
		f = strings.TrimSpace(f)
		if f == "" {
			return nil, fmt.Errorf("empty flag name")
		}
		key := strings.ToLower(f)
		if _, dup := c.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate flag %q", f)
		}
		c.byKey[key] = f
		c.flags = append(c.flags, f)
	}
	sort.Strings(c.flags)

	for _, m := range maps {
		m.Key = strings.ToLower(strings.TrimSpace(m.Key))
		if m.Key == "" {
			return nil, fmt.Errorf("map without key")
		}
		if _, dup := c.mapBy[m.Key]; dup {
			return nil, fmt.Errorf("duplicate map %q", m.Key)
		}
		if m.Name == "" {
			m.Name = strings.ToUpper(m.Key[:1]) + m.Key[1:]
		}
		c.mapBy[m.Key] = m
		c.maps = append(c.maps, m)
	}
	return c, nil
}

type file struct {
	Flags []string  `yaml:"flags"`
	Maps  []MapInfo `yaml:"maps"`
}

// LoadFile reads a YAML catalog. Omitted sections fall back to the defaults.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	if len(f.Flags) == 0 {
		f.Flags = DefaultFlags
	}
	if len(f.Maps) == 0 {
		f.Maps = DefaultMaps
	}
	return New(f.Flags, f.Maps)
}

// Canonical resolves a flag name case-insensitively to its catalog spelling
func (c *Catalog) Canonical(raw string) (string, error) {
	if f, ok := c.byKey[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return f, nil
	}
	return "", apperr.InvalidFlag(raw)
}

// Flags returns all flag names in lexicographic order
func (c *Catalog) Flags() []string {
	out := make([]string, len(c.flags))
	copy(out, c.flags)
	return out
}

// Map looks up a map by key, case-insensitively
func (c *Catalog) Map(key string) (MapInfo, error) {
	m, ok := c.mapBy[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return MapInfo{}, apperr.InvalidMap(key)
	}
	return m, nil
}

// Maps returns the registry in declaration order
func (c *Catalog) Maps() []MapInfo {
	out := make([]MapInfo, len(c.maps))
	copy(out, c.maps)
	return out
}
