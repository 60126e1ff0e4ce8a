package catalog_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
)

func TestCanonical_CaseInsensitive(t *testing.T) {
	c := catalog.Default()
	for _, raw := range []string{"wolf", "WOLF", " Wolf ", "wOlF"} {
		got, err := c.Canonical(raw)
		if err != nil {
			t.Fatalf("Canonical(%q) error: %v", raw, err)
		}
		if got != "Wolf" {
			t.Errorf("Canonical(%q) = %q, want Wolf", raw, got)
		}
	}
}

func TestCanonical_Unknown(t *testing.T) {
	_, err := catalog.Default().Canonical("Unicorn")
	if apperr.KindOf(err) != apperr.KindInvalidFlag {
		t.Fatalf("expected InvalidFlag, got %v", err)
	}
}

func TestFlags_SortedCopy(t *testing.T) {
	c := catalog.Default()
	flags := c.Flags()
	if len(flags) != 32 {
		t.Fatalf("len(Flags) = %d, want 32", len(flags))
	}
	if !sort.StringsAreSorted(flags) {
		t.Fatal("Flags not sorted")
	}
	flags[0] = "mutated"
	if c.Flags()[0] == "mutated" {
		t.Fatal("Flags returned internal slice")
	}
}

func TestMap_Lookup(t *testing.T) {
	c := catalog.Default()
	m, err := c.Map("Livonia")
	if err != nil {
		t.Fatalf("Map error: %v", err)
	}
	if m.Key != "livonia" || m.Name != "Livonia" || m.ImageURL == "" {
		t.Fatalf("unexpected map %+v", m)
	}
	if _, err := c.Map("altis"); apperr.KindOf(err) != apperr.KindInvalidMap {
		t.Fatalf("expected InvalidMap, got %v", err)
	}
	if got := len(c.Maps()); got != 3 {
		t.Fatalf("len(Maps) = %d, want 3", got)
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	if _, err := catalog.New([]string{"Wolf", "wolf"}, catalog.DefaultMaps); err == nil {
		t.Fatal("expected duplicate flag error")
	}
	maps := []catalog.MapInfo{{Key: "livonia"}, {Key: "LIVONIA"}}
	if _, err := catalog.New([]string{"Wolf"}, maps); err == nil {
		t.Fatal("expected duplicate map error")
	}
}

func TestLoadFile_PinsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := []byte(`flags: [Wolf, NAPA, Bear]
maps:
  - key: livonia
    image: https://example.invalid/livonia.png
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := catalog.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if got := c.Flags(); len(got) != 3 || got[0] != "Bear" {
		t.Fatalf("Flags = %v", got)
	}
	m, err := c.Map("livonia")
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "Livonia" {
		t.Errorf("default display name = %q, want Livonia", m.Name)
	}
	if _, err := c.Map("chernarus"); err == nil {
		t.Error("chernarus should not exist in pinned catalog")
	}
}

func TestLoadFile_EmptyFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := catalog.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if len(c.Flags()) != len(catalog.DefaultFlags) {
		t.Fatalf("expected default flags")
	}
}
