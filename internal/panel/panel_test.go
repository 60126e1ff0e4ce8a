package panel_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/panel"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform/platformtest"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

const mapL = "livonia"

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Options{URL: filepath.Join(t.TempDir(), "panel.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fixture struct {
	store *storage.Store
	plat  *platformtest.Platform
	mat   *panel.Materializer
	guild string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := newTestStore(t)
	p := platformtest.New()
	g := p.AddGuild()
	if err := s.EnsureFlags(context.Background(), g, mapL); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		store: s,
		plat:  p,
		mat:   panel.NewMaterializer(s, catalog.Default(), p, time.Second),
		guild: g,
	}
}

func (f *fixture) publish(t *testing.T) *storage.Panel {
	t.Helper()
	ch := f.plat.AddChannel(f.guild, panel.ChannelName(mapL), "")
	row, err := f.mat.Publish(context.Background(), f.guild, mapL, ch.ID, "")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return row
}

// ─── Render ─────────────────────────────────────────────────────────────────

func TestRender_SortedLines(t *testing.T) {
	info, _ := catalog.Default().Map(mapL)
	flags := []*storage.Flag{
		{Name: "Wolf", Status: storage.StatusClaimed, OwnerRoleID: "42"},
		{Name: "APA", Status: storage.StatusAvailable},
		{Name: "Bear", Status: storage.StatusAvailable},
	}

	p := panel.Render(info, flags, platform.RoleMention)

	want := "✅ APA — Unclaimed\n✅ Bear — Unclaimed\n❌ Wolf — <@&42>"
	if p.Description != want {
		t.Errorf("Description =\n%s\nwant\n%s", p.Description, want)
	}
	if p.Title != "Livonia Flag Ownership" {
		t.Errorf("Title = %q", p.Title)
	}
	if p.Footer != "1/3 flags claimed" {
		t.Errorf("Footer = %q", p.Footer)
	}
	if flags[0].Name != "Wolf" {
		t.Error("Render reordered its input")
	}
	if got := p.Line("Wolf"); got != "❌ Wolf — <@&42>" {
		t.Errorf("Line(Wolf) = %q", got)
	}
}

func TestRender_Deterministic(t *testing.T) {
	info, _ := catalog.Default().Map(mapL)
	a := []*storage.Flag{
		{Name: "Rex", Status: storage.StatusAvailable},
		{Name: "Bear", Status: storage.StatusClaimed, OwnerRoleID: "7"},
	}
	b := []*storage.Flag{a[1], a[0]}

	pa, err := panel.Render(info, a, platform.RoleMention).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	pb, err := panel.Render(info, b, platform.RoleMention).Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pa, pb) {
		t.Errorf("encodings differ:\n%s\n%s", pa, pb)
	}
}

func TestCustomID_RoundTrip(t *testing.T) {
	tests := []struct {
		id         string
		action     string
		arg        string
		n          int
		wantParsed bool
	}{
		{panel.CustomID(panel.ActionAssign, mapL), panel.ActionAssign, mapL, 0, true},
		{"panel:release:sakhal", panel.ActionRelease, "sakhal", 0, true},
		{panel.IndexedID(panel.ActionPickFlag, "tok", 3), panel.ActionPickFlag, "tok", 3, true},
		{"panel:page:tok:x", "", "", 0, false},
		{"panel:page::1", "", "", 0, false},
		{"panel:assign:", "", "", 0, false},
		{"other:assign:livonia", "", "", 0, false},
		{"panel:assign", "", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			action, arg, n, ok := panel.ParseCustomID(tt.id)
			if ok != tt.wantParsed || action != tt.action || arg != tt.arg || n != tt.n {
				t.Errorf("ParseCustomID(%q) = %q, %q, %d, %v", tt.id, action, arg, n, ok)
			}
		})
	}
}

func TestControls_Buttons(t *testing.T) {
	rows := panel.Controls(mapL)
	row, ok := rows[0].(discordgo.ActionsRow)
	if !ok || len(row.Components) != 2 {
		t.Fatalf("unexpected controls %#v", rows)
	}
	assign := row.Components[0].(discordgo.Button)
	release := row.Components[1].(discordgo.Button)
	if assign.CustomID != "panel:assign:livonia" || release.CustomID != "panel:release:livonia" {
		t.Errorf("custom ids = %q, %q", assign.CustomID, release.CustomID)
	}
}

// menus collects the select menus and buttons of a component layout
func menus(t *testing.T, rows []discordgo.MessageComponent) ([]discordgo.SelectMenu, []discordgo.Button) {
	t.Helper()
	var (
		selects []discordgo.SelectMenu
		buttons []discordgo.Button
	)
	for _, r := range rows {
		row, ok := r.(discordgo.ActionsRow)
		if !ok {
			t.Fatalf("not an actions row: %#v", r)
		}
		for _, c := range row.Components {
			switch c := c.(type) {
			case discordgo.SelectMenu:
				selects = append(selects, c)
			case discordgo.Button:
				buttons = append(buttons, c)
			}
		}
	}
	return selects, buttons
}

func numbered(n int) []panel.Option {
	opts := make([]panel.Option, n)
	for i := range opts {
		v := fmt.Sprintf("Option %03d", i)
		opts[i] = panel.Option{Label: v, Value: v}
	}
	return opts
}

func TestSelect_OffersEveryFlag(t *testing.T) {
	var opts []panel.Option
	for _, f := range catalog.DefaultFlags {
		opts = append(opts, panel.Option{Label: f, Value: f})
	}
	selects, buttons := menus(t, panel.Select(panel.ActionPickFlag, "tok", "Pick", opts, 0))
	if len(selects) != 2 || len(buttons) != 0 {
		t.Fatalf("got %d menus and %d buttons", len(selects), len(buttons))
	}

	offered := make(map[string]bool)
	ids := make(map[string]bool)
	for _, m := range selects {
		if len(m.Options) > 25 {
			t.Errorf("%s has %d options", m.CustomID, len(m.Options))
		}
		ids[m.CustomID] = true
		for _, o := range m.Options {
			offered[o.Value] = true
		}
	}
	for _, f := range catalog.DefaultFlags {
		if !offered[f] {
			t.Errorf("%s not offered", f)
		}
	}
	if len(ids) != len(selects) {
		t.Error("menu ids are not unique")
	}
	if selects[1].Placeholder != "Pick (S to Z)" {
		t.Errorf("second placeholder = %q", selects[1].Placeholder)
	}
}

func TestSelect_SingleMenu(t *testing.T) {
	selects, _ := menus(t, panel.Select(panel.ActionPickRole, "tok", "Pick", numbered(3), 0))
	if len(selects) != 1 || selects[0].Placeholder != "Pick" || len(selects[0].Options) != 3 {
		t.Errorf("menus = %+v", selects)
	}
	action, arg, _, ok := panel.ParseCustomID(selects[0].CustomID)
	if !ok || action != panel.ActionPickRole || arg != "tok" {
		t.Errorf("custom id = %q", selects[0].CustomID)
	}
}

func TestSelect_Pages(t *testing.T) {
	opts := numbered(230)

	seen := make(map[string]bool)
	for page := 0; page < 3; page++ {
		rows := panel.Select(panel.ActionPickRole, "tok", "Pick", opts, page)
		if len(rows) > 5 {
			t.Fatalf("page %d has %d rows", page, len(rows))
		}
		selects, buttons := menus(t, rows)
		if len(buttons) != 2 {
			t.Fatalf("page %d has %d buttons", page, len(buttons))
		}
		if buttons[0].Disabled != (page == 0) || buttons[1].Disabled != (page == 2) {
			t.Errorf("page %d buttons = %+v", page, buttons)
		}
		for _, m := range selects {
			for _, o := range m.Options {
				seen[o.Value] = true
			}
		}
	}
	if len(seen) != len(opts) {
		t.Errorf("pages offered %d of %d options", len(seen), len(opts))
	}

	// Out of range pages clamp to the last one.
	_, buttons := menus(t, panel.Select(panel.ActionPickRole, "tok", "Pick", opts, 9))
	if _, _, n, _ := panel.ParseCustomID(buttons[0].CustomID); n != 1 || !buttons[1].Disabled {
		t.Errorf("clamped buttons = %+v", buttons)
	}
}

// ─── Materializer ───────────────────────────────────────────────────────────

func TestPublish_PostsAndRegisters(t *testing.T) {
	f := newFixture(t)
	row := f.publish(t)

	msg := f.plat.Message(row.MessageID)
	if msg == nil || msg.ChannelID != row.ChannelID {
		t.Fatal("panel message not posted")
	}
	if !strings.Contains(msg.Embed.Description, "✅ Wolf — Unclaimed") {
		t.Errorf("panel missing Wolf line:\n%s", msg.Embed.Description)
	}
	if b, ok := f.mat.Bound(row.MessageID); !ok || b.GuildID != f.guild || b.Map != mapL {
		t.Errorf("Bound = %+v, %v", b, ok)
	}

	// Publishing again into the same channel reconciles in place.
	again, err := f.mat.Publish(context.Background(), f.guild, mapL, row.ChannelID, "")
	if err != nil {
		t.Fatal(err)
	}
	if again.MessageID != row.MessageID {
		t.Errorf("second publish posted a new message")
	}
}

func TestPublish_MoveRetiresOldMessage(t *testing.T) {
	f := newFixture(t)
	old := f.publish(t)

	elsewhere := f.plat.AddChannel(f.guild, "somewhere-else", "")
	moved, err := f.mat.Publish(context.Background(), f.guild, mapL, elsewhere.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if moved.MessageID == old.MessageID || moved.ChannelID != elsewhere.ID {
		t.Fatalf("moved = %+v", moved)
	}

	prev := f.plat.Message(old.MessageID)
	if prev == nil {
		t.Fatal("old panel message vanished")
	}
	if len(prev.Components) != 0 {
		t.Error("old panel still carries buttons")
	}
	if !strings.Contains(prev.Embed.Description, "moved to "+platform.ChannelMention(elsewhere.ID)) {
		t.Errorf("old panel = %q", prev.Embed.Description)
	}
	if _, ok := f.mat.Bound(old.MessageID); ok {
		t.Error("old message still bound")
	}
	if _, ok := f.mat.Bound(moved.MessageID); !ok {
		t.Error("new message not bound")
	}
}

func TestRefresh_ReflectsStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.publish(t)

	if err := f.store.ClaimFlag(ctx, f.guild, mapL, "Wolf", "555"); err != nil {
		t.Fatal(err)
	}
	if err := f.mat.Refresh(ctx, f.guild, mapL); err != nil {
		t.Fatal(err)
	}

	msg := f.plat.Message(row.MessageID)
	if !strings.Contains(msg.Embed.Description, "❌ Wolf — <@&555>") {
		t.Errorf("panel not updated:\n%s", msg.Embed.Description)
	}
	if msg.Edits == 0 {
		t.Error("expected an edit")
	}
}

func TestRefresh_NoRegistryIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.mat.Refresh(context.Background(), f.guild, mapL); err != nil {
		t.Fatal(err)
	}
	if f.plat.Calls("SendMessage") != 0 || f.plat.Calls("EditMessage") != 0 {
		t.Error("refresh without registry touched the platform")
	}
}

func TestRefresh_RepostsDeletedMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.publish(t)

	f.plat.DropMessage(row.MessageID)
	if err := f.mat.Refresh(ctx, f.guild, mapL); err != nil {
		t.Fatal(err)
	}

	updated, err := f.store.GetPanel(ctx, f.guild, mapL)
	if err != nil {
		t.Fatal(err)
	}
	if updated.MessageID == row.MessageID || updated.ChannelID != row.ChannelID {
		t.Fatalf("registry = %+v", updated)
	}
	if f.plat.Message(updated.MessageID) == nil {
		t.Error("replacement message missing")
	}
	if _, ok := f.mat.Bound(row.MessageID); ok {
		t.Error("old message still bound")
	}
}

func TestRefresh_RecreatesDeletedChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.publish(t)

	f.plat.DropChannel(row.ChannelID)
	if err := f.mat.Refresh(ctx, f.guild, mapL); err != nil {
		t.Fatal(err)
	}

	updated, _ := f.store.GetPanel(ctx, f.guild, mapL)
	if updated.ChannelID == row.ChannelID {
		t.Fatal("registry still points at the deleted channel")
	}
	ch := f.plat.ChannelByName(f.guild, "flags-livonia")
	if ch == nil || ch.ID != updated.ChannelID {
		t.Fatalf("recreated channel = %+v", ch)
	}
	if len(f.plat.Messages(ch.ID)) != 1 {
		t.Error("panel not reposted into the new channel")
	}
}

func TestRefresh_ForbiddenLeavesRegistry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.publish(t)

	f.plat.FailNext("EditMessage", platform.ErrForbidden)
	err := f.mat.Refresh(ctx, f.guild, mapL)
	if !errors.Is(err, platform.ErrForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
	updated, _ := f.store.GetPanel(ctx, f.guild, mapL)
	if updated.MessageID != row.MessageID {
		t.Error("registry changed on a forbidden edit")
	}
}

func TestRestore_BindsSurvivingPanels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.publish(t)

	// A row whose message is gone, and one for a guild the bot left.
	lost := f.plat.AddChannel(f.guild, "flags-sakhal", "")
	if err := f.store.UpsertPanel(ctx, &storage.Panel{GuildID: f.guild, Map: "sakhal", ChannelID: lost.ID, MessageID: f.plat.NewID()}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.UpsertPanel(ctx, &storage.Panel{GuildID: f.plat.NewID(), Map: mapL, ChannelID: "1", MessageID: "2"}); err != nil {
		t.Fatal(err)
	}

	fresh := panel.NewMaterializer(f.store, catalog.Default(), f.plat, 0)
	n, err := fresh.Restore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("restored %d, want 1", n)
	}
	if _, ok := fresh.Bound(row.MessageID); !ok {
		t.Error("surviving panel not bound")
	}
}

// ─── Sessions ───────────────────────────────────────────────────────────────

func TestSessions_OnePerMap(t *testing.T) {
	s := panel.NewSessions(time.Minute)

	first, err := s.Begin("g", mapL, "u1", panel.SessionAssign)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Begin("g", mapL, "u2", panel.SessionRelease); !errors.Is(err, apperr.New(apperr.KindBusySession)) {
		t.Fatalf("second Begin err = %v, want BusySession", err)
	}
	if _, err := s.Begin("g", "sakhal", "u2", panel.SessionAssign); err != nil {
		t.Fatalf("other map blocked: %v", err)
	}

	s.End(first.Token)
	if _, err := s.Begin("g", mapL, "u2", panel.SessionAssign); err != nil {
		t.Fatalf("Begin after End: %v", err)
	}
}

func TestSessions_GetChecksOwner(t *testing.T) {
	s := panel.NewSessions(time.Minute)
	sess, _ := s.Begin("g", mapL, "u1", panel.SessionAssign)

	if _, err := s.Get(sess.Token, "u2"); apperr.KindOf(err) != apperr.KindPermissionDenied {
		t.Errorf("foreign Get err = %v", err)
	}
	if err := s.Pick(sess.Token, "Wolf", storage.StatusAvailable); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(sess.Token, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Flag != "Wolf" || got.Seen != storage.StatusAvailable {
		t.Errorf("session = %+v", got)
	}
	if _, err := s.Get("nope", "u1"); apperr.KindOf(err) != apperr.KindStaleState {
		t.Errorf("unknown token err = %v", err)
	}
}

func TestSessions_Expire(t *testing.T) {
	s := panel.NewSessions(20 * time.Millisecond)
	sess, err := s.Begin("g", mapL, "u1", panel.SessionAssign)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Active() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Active() != 0 {
		t.Fatal("session did not expire")
	}
	if _, err := s.Get(sess.Token, "u1"); apperr.KindOf(err) != apperr.KindStaleState {
		t.Errorf("expired Get err = %v", err)
	}
	if _, err := s.Begin("g", mapL, "u2", panel.SessionAssign); err != nil {
		t.Errorf("map still latched after expiry: %v", err)
	}
}
