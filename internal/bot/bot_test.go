package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/activity"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/apperr"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/audit"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/coord"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/panel"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform/platformtest"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

const (
	mapL  = "livonia"
	admin = "900000000000000001"
	other = "900000000000000002"
)

type fixture struct {
	ctx   context.Context
	store *storage.Store
	plat  *platformtest.Platform
	h     *Handler
	guild string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.Options{URL: filepath.Join(t.TempDir(), "bot.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := platformtest.New()
	cat := catalog.Default()
	mat := panel.NewMaterializer(s, cat, p, time.Second)
	auditor := audit.New(s, p)
	poller := activity.New(p, auditor, activity.Options{PostInterval: time.Millisecond})
	t.Cleanup(poller.Stop)

	h := NewHandler(Services{
		Coord:    coord.New(coord.Deps{Store: s, Catalog: cat, Platform: p, Panels: mat, Audit: auditor}),
		Panels:   mat,
		Sessions: panel.NewSessions(time.Minute),
		Activity: poller,
		Audit:    auditor,
		Platform: p,
	})
	return &fixture{ctx: context.Background(), store: s, plat: p, h: h, guild: p.AddGuild()}
}

func (f *fixture) run(name string, args Args) Reply {
	return f.h.Command(f.ctx, Invocation{GuildID: f.guild, UserID: admin, Admin: true, Name: name, Args: args})
}

func (f *fixture) press(t *testing.T, customID, messageID string, values ...string) Reply {
	t.Helper()
	return f.h.Component(f.ctx, Press{
		GuildID: f.guild, UserID: admin, Admin: true,
		MessageID: messageID, CustomID: customID, Values: values,
	})
}

func (f *fixture) setup(t *testing.T) *storage.Panel {
	t.Helper()
	reply := f.run("setup", Args{"map": mapL})
	if !strings.Contains(reply.Content, "Flag panel for **Livonia**") {
		t.Fatalf("setup reply = %q", reply.Content)
	}
	row, err := f.store.GetPanel(f.ctx, f.guild, mapL)
	if err != nil {
		t.Fatal(err)
	}
	return row
}

func (f *fixture) lastLog(t *testing.T) *storage.LogEntry {
	t.Helper()
	logs, err := f.store.ListLogs(f.ctx, f.guild, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) == 0 {
		t.Fatal("no audit entries")
	}
	latest := logs[0]
	for _, l := range logs {
		if l.ID > latest.ID {
			latest = l
		}
	}
	return latest
}

// selectID returns the custom id of the first select menu in a reply
func selectID(t *testing.T, r Reply) string {
	t.Helper()
	menus := selectMenus(t, r)
	if len(menus) == 0 {
		t.Fatalf("reply has no select menu: %q", r.Content)
	}
	return menus[0].CustomID
}

func selectMenus(t *testing.T, r Reply) []discordgo.SelectMenu {
	t.Helper()
	if len(r.Components) == 0 {
		t.Fatalf("reply has no components: %q", r.Content)
	}
	var menus []discordgo.SelectMenu
	for _, c := range r.Components {
		row, ok := c.(discordgo.ActionsRow)
		if !ok {
			t.Fatalf("unexpected component: %#v", c)
		}
		for _, inner := range row.Components {
			if menu, ok := inner.(discordgo.SelectMenu); ok {
				menus = append(menus, menu)
			}
		}
	}
	return menus
}

// offered maps every option value across a reply's menus to the menu that
// carries it
func offered(t *testing.T, r Reply) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, m := range selectMenus(t, r) {
		for _, o := range m.Options {
			out[o.Value] = m.CustomID
		}
	}
	return out
}

// ─── Rendering ──────────────────────────────────────────────────────────────

func TestRenderError_EveryKind(t *testing.T) {
	generic := renderError(errors.New("boom"))
	seen := make(map[string]apperr.Kind)
	for _, k := range apperr.Kinds() {
		msg := renderError(apperr.New(k))
		if msg == generic {
			t.Errorf("%s renders as the generic message", k)
		}
		if prev, dup := seen[msg]; dup {
			t.Errorf("%s and %s render the same: %q", prev, k, msg)
		}
		seen[msg] = k
	}
}

func TestRenderError_Details(t *testing.T) {
	msg := renderError(fmt.Errorf("assign: %w", apperr.AlreadyClaimed("Wolf", "42")))
	if !strings.Contains(msg, "**Wolf**") || !strings.Contains(msg, "<@&42>") {
		t.Errorf("AlreadyClaimed = %q", msg)
	}

	msg = renderError(apperr.CreationFailed(errors.New("x"), []string{"role Alpha"}))
	if !strings.Contains(msg, "Could not undo: role Alpha") {
		t.Errorf("CreationFailed = %q", msg)
	}

	msg = renderError(fmt.Errorf("start: %w", activity.ErrNotCategory))
	if !strings.Contains(msg, "not a category") {
		t.Errorf("ErrNotCategory = %q", msg)
	}
	if msg = renderError(activity.ErrStopped); !strings.Contains(msg, "shutting down") {
		t.Errorf("ErrStopped = %q", msg)
	}
}

func TestParseMembers(t *testing.T) {
	in := "<@111111111111111111> <@!222222222222222222>, <@&333333333333333333> 111111111111111111 bob"
	got := parseMembers(in)
	want := []string{"111111111111111111", "222222222222222222"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("parseMembers = %v, want %v", got, want)
	}
	if len(parseMembers("")) != 0 {
		t.Error("empty input yielded members")
	}
}

func TestFlagTable(t *testing.T) {
	flags := []*storage.Flag{
		{Name: "APA", Status: storage.StatusAvailable},
		{Name: "Wolf", Status: storage.StatusClaimed, OwnerRoleID: "7"},
		{Name: "Zenit", Status: storage.StatusClaimed, OwnerRoleID: "8"},
	}
	out := flagTable(flags, map[string]string{"7": "Wolves"})
	for _, want := range []string{"@Wolves", "Zenit", "free", "2/3 flags claimed"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFactionTable_Empty(t *testing.T) {
	if got := factionTable(nil); !strings.Contains(got, "No factions") {
		t.Errorf("factionTable(nil) = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", maxContent)
	got := truncate(long)
	if len(got) > maxContent {
		t.Errorf("len = %d", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("missing ellipsis")
	}
	if truncate("short") != "short" {
		t.Error("short content changed")
	}
}

// ─── Commands ───────────────────────────────────────────────────────────────

func TestCommandDefinitions(t *testing.T) {
	h := NewHandler(Services{})
	defs := commandDefinitions(catalog.Default())
	if len(defs) != len(h.commands) {
		t.Errorf("%d definitions, %d handlers", len(defs), len(h.commands))
	}
	for _, d := range defs {
		if _, ok := h.commands[d.Name]; !ok {
			t.Errorf("no handler for /%s", d.Name)
		}
		if d.DefaultMemberPermissions == nil || *d.DefaultMemberPermissions != discordgo.PermissionAdministrator {
			t.Errorf("/%s is not limited to administrators", d.Name)
		}
	}
}

func TestArgsFrom(t *testing.T) {
	args := argsFrom([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "map", Type: discordgo.ApplicationCommandOptionString, Value: "livonia"},
		{Name: "hours", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(3)},
		{Name: "role", Type: discordgo.ApplicationCommandOptionRole, Value: "123"},
	})
	if args["map"] != "livonia" || args.Int("hours", 0) != 3 || args["role"] != "123" {
		t.Errorf("args = %v", args)
	}
	if args.Int("threshold", 4) != 4 {
		t.Error("missing int did not fall back to default")
	}
}

func TestCommand_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	reply := f.h.Command(f.ctx, Invocation{GuildID: f.guild, UserID: other, Name: "reset", Args: Args{"map": mapL}})
	if !strings.Contains(reply.Content, "Permission denied") {
		t.Errorf("reply = %q", reply.Content)
	}

	entry := f.lastLog(t)
	if entry.Action != audit.ActionError || !strings.HasPrefix(entry.Details, "PermissionDenied") {
		t.Errorf("audit entry = %+v", entry)
	}
}

func TestCommand_AssignAndConflict(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	wolves := f.plat.AddRole(f.guild, "Wolves")
	bears := f.plat.AddRole(f.guild, "Bears")

	reply := f.run("assign", Args{"map": mapL, "flag": "wolf", "role": wolves.ID})
	if !strings.Contains(reply.Content, "**Wolf** on **Livonia** is now owned by <@&"+wolves.ID+">") {
		t.Fatalf("assign reply = %q", reply.Content)
	}

	reply = f.run("assign", Args{"map": mapL, "flag": "Wolf", "role": bears.ID})
	if !strings.Contains(reply.Content, "already claimed by <@&"+wolves.ID+">") {
		t.Errorf("conflict reply = %q", reply.Content)
	}
	entry := f.lastLog(t)
	if !strings.HasPrefix(entry.Details, "AlreadyClaimed") {
		t.Errorf("audit details = %q", entry.Details)
	}

	reply = f.run("flag-status", Args{"map": mapL})
	if !strings.Contains(reply.Content, "@Wolves") || !strings.Contains(reply.Content, "1/32 flags claimed") {
		t.Errorf("status reply:\n%s", reply.Content)
	}

	reply = f.run("reassign", Args{"map": mapL, "flag": "Wolf", "role": bears.ID})
	if !strings.Contains(reply.Content, "moved from <@&"+wolves.ID+"> to <@&"+bears.ID+">") {
		t.Errorf("reassign reply = %q", reply.Content)
	}

	reply = f.run("release", Args{"map": mapL, "flag": "Wolf"})
	if !strings.Contains(reply.Content, "available again") {
		t.Errorf("release reply = %q", reply.Content)
	}
	reply = f.run("release", Args{"map": mapL, "flag": "Wolf"})
	if !strings.Contains(reply.Content, "already available") {
		t.Errorf("second release reply = %q", reply.Content)
	}
}

func TestCommand_InvalidInput(t *testing.T) {
	f := newFixture(t)
	if r := f.run("assign", Args{"map": mapL, "flag": "Unicorn", "role": "1"}); !strings.Contains(r.Content, "`Unicorn` is not a valid flag") {
		t.Errorf("invalid flag reply = %q", r.Content)
	}
	if r := f.run("reset", Args{"map": "atlantis"}); !strings.Contains(r.Content, "`atlantis` is not a known map") {
		t.Errorf("invalid map reply = %q", r.Content)
	}
	if r := f.run("faction-create", Args{"map": mapL, "name": "Alpha", "leader": admin, "color": "purple"}); !strings.Contains(r.Content, "hex color") {
		t.Errorf("invalid color reply = %q", r.Content)
	}
}

func TestCommand_FactionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.setup(t)

	reply := f.run("faction-create", Args{
		"map": mapL, "name": "Alpha", "leader": admin, "flag": "APA",
		"members": "<@900000000000000003> <@900000000000000004>", "color": "#E67E22",
	})
	if !strings.Contains(reply.Content, "Faction **Alpha** created") || !strings.Contains(reply.Content, "holds **APA**") {
		t.Fatalf("create reply = %q", reply.Content)
	}

	reply = f.run("faction-list", Args{})
	if !strings.Contains(reply.Content, "Alpha") || !strings.Contains(reply.Content, "APA") {
		t.Errorf("list reply:\n%s", reply.Content)
	}

	reply = f.run("faction-add-member", Args{"name": "alpha", "user": other})
	if !strings.Contains(reply.Content, "joined **Alpha** (4 members)") {
		t.Errorf("add member reply = %q", reply.Content)
	}
	reply = f.run("faction-remove-member", Args{"name": "Alpha", "user": other})
	if !strings.Contains(reply.Content, "left **Alpha** (3 members)") {
		t.Errorf("remove member reply = %q", reply.Content)
	}

	reply = f.run("faction-delete", Args{"name": "Alpha"})
	if !strings.Contains(reply.Content, "**APA** on **Livonia** is available again") {
		t.Errorf("delete reply = %q", reply.Content)
	}
	reply = f.run("faction-delete", Args{"name": "Alpha"})
	if !strings.Contains(reply.Content, "No faction named `Alpha`") {
		t.Errorf("second delete reply = %q", reply.Content)
	}
}

func TestCommand_ActivityCheckNotCategory(t *testing.T) {
	f := newFixture(t)
	general := f.plat.AddChannel(f.guild, "general", "")
	reply := f.run("activity-check", Args{"category": general.ID})
	if !strings.Contains(reply.Content, "not a category") {
		t.Errorf("reply = %q", reply.Content)
	}
}

// ─── Panel components ───────────────────────────────────────────────────────

func TestComponent_AssignFlow(t *testing.T) {
	f := newFixture(t)
	row := f.setup(t)
	if r := f.run("faction-create", Args{"map": mapL, "name": "Alpha", "leader": admin}); !strings.Contains(r.Content, "created") {
		t.Fatalf("create reply = %q", r.Content)
	}
	alpha, err := f.store.FindFaction(f.ctx, f.guild, "Alpha")
	if err != nil {
		t.Fatal(err)
	}

	reply := f.press(t, panel.CustomID(panel.ActionAssign, mapL), row.MessageID)
	pickFlag, ok := offered(t, reply)["Wolf"]
	if !ok {
		t.Fatal("Wolf is not offered")
	}

	reply = f.press(t, pickFlag, "", "Wolf")
	pickRole, ok := offered(t, reply)[alpha.RoleID]
	if !ok {
		t.Fatalf("Alpha is not offered: %q", reply.Content)
	}
	if !strings.Contains(reply.Content, "**Wolf**") {
		t.Errorf("role step = %q", reply.Content)
	}

	reply = f.press(t, pickRole, "", alpha.RoleID)
	if !strings.Contains(reply.Content, "now owned by") || len(reply.Components) != 0 {
		t.Errorf("final step = %+v", reply)
	}
	if f.h.Sessions.Active() != 0 {
		t.Error("session left open")
	}

	flag, err := f.store.GetFlag(f.ctx, f.guild, mapL, "Wolf")
	if err != nil {
		t.Fatal(err)
	}
	if !flag.Claimed() || flag.OwnerRoleID != alpha.RoleID {
		t.Errorf("flag = %+v", flag)
	}
}

func TestComponent_OffersEveryAvailableFlag(t *testing.T) {
	f := newFixture(t)
	row := f.setup(t)
	wolves := f.plat.AddRole(f.guild, "Wolves")
	f.run("assign", Args{"map": mapL, "flag": "APA", "role": wolves.ID})

	reply := f.press(t, panel.CustomID(panel.ActionAssign, mapL), row.MessageID)
	got := offered(t, reply)

	flags, err := f.store.ListFlags(f.ctx, f.guild, mapL)
	if err != nil {
		t.Fatal(err)
	}
	var available int
	for _, fl := range flags {
		_, ok := got[fl.Name]
		if fl.Claimed() == ok {
			t.Errorf("%s claimed=%v offered=%v", fl.Name, fl.Claimed(), ok)
		}
		if !fl.Claimed() {
			available++
		}
	}
	if available != 31 || len(got) != available {
		t.Errorf("available=%d offered=%d", available, len(got))
	}
	for _, m := range selectMenus(t, reply) {
		if len(m.Options) > 25 {
			t.Errorf("%s has %d options", m.CustomID, len(m.Options))
		}
	}

	// Re-rendering a page keeps the same session and options.
	_, token, _, _ := panel.ParseCustomID(selectID(t, reply))
	again := f.press(t, panel.IndexedID(panel.ActionPage, token, 0), "")
	if len(offered(t, again)) != len(got) || again.Content != reply.Content {
		t.Errorf("page reply = %q", again.Content)
	}
	if f.h.Sessions.Active() != 1 {
		t.Error("paging ended the session")
	}
}

func TestComponent_ReleaseOffersEveryClaim(t *testing.T) {
	f := newFixture(t)
	row := f.setup(t)
	// A role holds at most one flag per map.
	for _, name := range catalog.DefaultFlags {
		owner := f.plat.AddRole(f.guild, name+" Crew")
		if r := f.run("assign", Args{"map": mapL, "flag": name, "role": owner.ID}); !strings.Contains(r.Content, "now owned by") {
			t.Fatalf("assign %s = %q", name, r.Content)
		}
	}

	reply := f.press(t, panel.CustomID(panel.ActionRelease, mapL), row.MessageID)
	got := offered(t, reply)
	if len(got) != len(catalog.DefaultFlags) {
		t.Fatalf("offered %d of %d claimed flags", len(got), len(catalog.DefaultFlags))
	}
	pick, ok := got["Zenit"]
	if !ok {
		t.Fatal("Zenit is not offered")
	}
	if reply = f.press(t, pick, "", "Zenit"); !strings.Contains(reply.Content, "**Zenit** on **Livonia** was released") {
		t.Errorf("reply = %q", reply.Content)
	}
}

func TestComponent_StaleBetweenSteps(t *testing.T) {
	f := newFixture(t)
	row := f.setup(t)
	f.run("faction-create", Args{"map": mapL, "name": "Alpha", "leader": admin})
	alpha, err := f.store.FindFaction(f.ctx, f.guild, "Alpha")
	if err != nil {
		t.Fatal(err)
	}
	rival := f.plat.AddRole(f.guild, "Rivals")

	pickFlag := selectID(t, f.press(t, panel.CustomID(panel.ActionAssign, mapL), row.MessageID))
	pickRole := selectID(t, f.press(t, pickFlag, "", "Wolf"))

	// Someone claims the flag through a command while the selector is open.
	if r := f.run("assign", Args{"map": mapL, "flag": "Wolf", "role": rival.ID}); !strings.Contains(r.Content, "now owned by") {
		t.Fatalf("assign reply = %q", r.Content)
	}

	reply := f.press(t, pickRole, "", alpha.RoleID)
	if !strings.Contains(reply.Content, "out of date") {
		t.Errorf("reply = %q", reply.Content)
	}
	if f.h.Sessions.Active() != 0 {
		t.Error("stale session left open")
	}
}

func TestComponent_BusyAndOwner(t *testing.T) {
	f := newFixture(t)
	row := f.setup(t)

	first := f.press(t, panel.CustomID(panel.ActionAssign, mapL), row.MessageID)
	pickFlag := selectID(t, first)

	second := f.h.Component(f.ctx, Press{
		GuildID: f.guild, UserID: other, Admin: true,
		MessageID: row.MessageID, CustomID: panel.CustomID(panel.ActionRelease, mapL),
	})
	if !strings.Contains(second.Content, "Someone else is using this panel") {
		t.Errorf("busy reply = %q", second.Content)
	}

	hijack := f.h.Component(f.ctx, Press{
		GuildID: f.guild, UserID: other, Admin: true, CustomID: pickFlag, Values: []string{"Wolf"},
	})
	if !strings.Contains(hijack.Content, "Permission denied") {
		t.Errorf("hijack reply = %q", hijack.Content)
	}
}

func TestComponent_ReleaseFlow(t *testing.T) {
	f := newFixture(t)
	row := f.setup(t)
	wolves := f.plat.AddRole(f.guild, "Wolves")
	f.run("assign", Args{"map": mapL, "flag": "Wolf", "role": wolves.ID})

	reply := f.press(t, panel.CustomID(panel.ActionRelease, mapL), row.MessageID)
	pick := selectID(t, reply)
	reply = f.press(t, pick, "", "Wolf")
	if !strings.Contains(reply.Content, "released from <@&"+wolves.ID+">") {
		t.Errorf("reply = %q", reply.Content)
	}

	reply = f.press(t, panel.CustomID(panel.ActionRelease, mapL), row.MessageID)
	if !strings.Contains(reply.Content, "No flags on **Livonia** are claimed") {
		t.Errorf("empty release reply = %q", reply.Content)
	}
	if f.h.Sessions.Active() != 0 {
		t.Error("session left open")
	}
}

func TestComponent_UnboundMessage(t *testing.T) {
	f := newFixture(t)
	f.setup(t)
	reply := f.press(t, panel.CustomID(panel.ActionAssign, mapL), "123456789012345678")
	if !strings.Contains(reply.Content, "out of date") {
		t.Errorf("reply = %q", reply.Content)
	}
}

func TestComponent_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	row := f.setup(t)
	reply := f.h.Component(f.ctx, Press{
		GuildID: f.guild, UserID: other, MessageID: row.MessageID,
		CustomID: panel.CustomID(panel.ActionAssign, mapL),
	})
	if !strings.Contains(reply.Content, "Permission denied") {
		t.Errorf("reply = %q", reply.Content)
	}
}

// ─── Startup ────────────────────────────────────────────────────────────────

func TestApplicationID(t *testing.T) {
	state := discordgo.NewState()
	state.User = &discordgo.User{ID: "42"}
	if got := applicationID("", state); got != "42" {
		t.Errorf("fallback = %q", got)
	}
	if got := applicationID("7", state); got != "7" {
		t.Errorf("configured = %q", got)
	}
	if got := applicationID("", nil); got != "" {
		t.Errorf("no state = %q", got)
	}
}

func TestOpenWithBackoff(t *testing.T) {
	calls := 0
	err := openWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("429")
		}
		return nil
	}, 5, time.Millisecond)
	if err != nil || calls != 3 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	calls = 0
	err = openWithBackoff(context.Background(), func() error {
		calls++
		return errors.New("down")
	}, 3, time.Millisecond)
	if err == nil || calls != 3 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = openWithBackoff(ctx, func() error { return errors.New("down") }, 5, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
