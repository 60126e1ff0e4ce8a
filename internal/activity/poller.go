// Package activity runs reaction-based activity checks over a category of
// faction channels and reports who confirmed.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/audit"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
)

// Defaults for a check
const (
	DefaultExpiry    = 12 * time.Hour
	DefaultThreshold = 4
	DefaultEmoji     = "✅"
	DefaultAlerts    = "alerts"
)

// ErrNotCategory is returned when the target channel is not a category
var ErrNotCategory = errors.New("activity: channel is not a category")

// ErrStopped is returned for checks cut short by Stop
var ErrStopped = errors.New("activity: poller stopped")

// Auditor records finished checks
type Auditor interface {
	Log(ctx context.Context, e audit.Entry) error
}

// Options configures a Poller
type Options struct {
	Expiry        time.Duration
	Threshold     int
	Emoji         string
	AlertsChannel string
	// PostInterval paces poll posts; zero means two per second.
	PostInterval time.Duration
}

// Request is one activity check
type Request struct {
	GuildID    string
	CategoryID string
	RoleID     string // optional; otherwise matched per channel by name
	Expiry     time.Duration
	Threshold  int
	Emoji      string
	ActorID    string
}

// Result is one channel's outcome
type Result struct {
	ChannelID string
	Channel   string
	RoleID    string
	Count     int
	Passing   bool
}

// Report is a finished check
type Report struct {
	GuildID   string
	Threshold int
	Started   time.Time
	Ended     time.Time
	Results   []Result
}

type poll struct {
	channel   *platform.Channel
	roleID    string
	messageID string
}

// Poller runs activity checks in the background
type Poller struct {
	platform platform.Platform
	audit    Auditor
	opts     Options
	limiter  *rate.Limiter
	now      func() time.Time

	// mu orders wg.Add against Stop
	mu       deadlock.Mutex
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Poller. audit may be nil.
func New(p platform.Platform, a Auditor, opts Options) *Poller {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Emoji == "" {
		opts.Emoji = DefaultEmoji
	}
	if opts.AlertsChannel == "" {
		opts.AlertsChannel = DefaultAlerts
	}
	if opts.PostInterval <= 0 {
		opts.PostInterval = 500 * time.Millisecond
	}
	return &Poller{
		platform: p,
		audit:    a,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Every(opts.PostInterval), 1),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

func (p *Poller) withDefaults(req Request) Request {
	if req.Expiry <= 0 {
		req.Expiry = p.opts.Expiry
	}
	if req.Threshold <= 0 {
		req.Threshold = p.opts.Threshold
	}
	if req.Emoji == "" {
		req.Emoji = p.opts.Emoji
	}
	return req
}

// Start posts the polls and returns how many channels were polled. Waiting
// and reporting continue in the background until expiry, ctx cancellation
// or Stop. It fails with ErrStopped once Stop has been called.
func (p *Poller) Start(ctx context.Context, req Request) (int, error) {
	if p.isStopped() {
		return 0, ErrStopped
	}
	req = p.withDefaults(req)
	polls, err := p.post(ctx, req)
	if err != nil {
		return 0, err
	}
	if len(polls) == 0 {
		return 0, nil
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return len(polls), ErrStopped
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		// The interaction that started the check is long gone by expiry.
		bg := context.WithoutCancel(ctx)
		if _, err := p.finish(bg, req, polls); err != nil && !errors.Is(err, ErrStopped) {
			slog.Error("Activity check failed", "guildID", req.GuildID, "error", err)
		}
	}()
	return len(polls), nil
}

// Run performs a whole check and blocks until it is reported
func (p *Poller) Run(ctx context.Context, req Request) (*Report, error) {
	req = p.withDefaults(req)
	polls, err := p.post(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, req, polls)
}

// Stop cancels every check still waiting and waits for them to exit
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopChan)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Poller) post(ctx context.Context, req Request) ([]*poll, error) {
	category, err := p.platform.Channel(ctx, req.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve category: %w", err)
	}
	if category.Kind != platform.KindCategory || category.GuildID != req.GuildID {
		return nil, ErrNotCategory
	}

	channels, err := p.platform.GuildChannels(ctx, req.GuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	var roles []*platform.Role
	if req.RoleID == "" {
		if roles, err = p.platform.GuildRoles(ctx, req.GuildID); err != nil {
			return nil, fmt.Errorf("failed to list roles: %w", err)
		}
	}

	deadline := p.now().Add(req.Expiry).UTC()
	var polls []*poll
	for _, ch := range channels {
		if ch.Kind != platform.KindText || ch.ParentID != category.ID {
			continue
		}
		roleID := req.RoleID
		if roleID == "" {
			roleID = matchRole(roles, ch.Name)
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return polls, err
		}
		msg := &platform.Message{Content: pollText(roleID, req.Emoji, deadline)}
		if roleID != "" {
			msg.MentionRoles = []string{roleID}
		}
		id, err := p.platform.SendMessage(ctx, ch.ID, msg)
		if err != nil {
			slog.Warn("Failed to post activity poll", "guildID", req.GuildID, "channel", ch.Name, "error", err)
			continue
		}
		if err := p.platform.AddReaction(ctx, ch.ID, id, req.Emoji); err != nil {
			slog.Warn("Failed to seed poll reaction", "guildID", req.GuildID, "channel", ch.Name, "error", err)
		}
		polls = append(polls, &poll{channel: ch, roleID: roleID, messageID: id})
	}

	slog.Info("Activity check started", "guildID", req.GuildID, "channels", len(polls), "expiry", req.Expiry)
	return polls, nil
}

func (p *Poller) finish(ctx context.Context, req Request, polls []*poll) (*Report, error) {
	started := p.now().UTC()
	timer := time.NewTimer(req.Expiry)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopChan:
		return nil, ErrStopped
	}

	report := &Report{GuildID: req.GuildID, Threshold: req.Threshold, Started: started, Ended: p.now().UTC()}
	self := p.platform.SelfID()
	for _, pl := range polls {
		users, err := p.platform.Reactors(ctx, pl.channel.ID, pl.messageID, req.Emoji)
		if err != nil {
			slog.Warn("Failed to collect poll reactions", "guildID", req.GuildID, "channel", pl.channel.Name, "error", err)
		}
		n := countUsers(users, self)
		report.Results = append(report.Results, Result{
			ChannelID: pl.channel.ID,
			Channel:   pl.channel.Name,
			RoleID:    pl.roleID,
			Count:     n,
			Passing:   n >= req.Threshold,
		})
	}
	Rank(report.Results)

	alerts, err := platform.EnsureChannel(ctx, p.platform, req.GuildID, platform.ChannelSpec{Name: p.opts.AlertsChannel})
	if err != nil {
		return report, fmt.Errorf("failed to resolve alerts channel: %w", err)
	}
	if _, err := p.platform.SendMessage(ctx, alerts.ID, &platform.Message{Embed: Leaderboard(report)}); err != nil {
		return report, fmt.Errorf("failed to post leaderboard: %w", err)
	}

	if p.audit != nil {
		passing := 0
		for _, r := range report.Results {
			if r.Passing {
				passing++
			}
		}
		_ = p.audit.Log(ctx, audit.Entry{
			GuildID: req.GuildID,
			Action:  audit.ActionActivityCheck,
			UserID:  req.ActorID,
			Details: fmt.Sprintf("%d of %d channels passed (threshold %d)", passing, len(report.Results), req.Threshold),
		})
	}
	slog.Info("Activity check finished", "guildID", req.GuildID, "channels", len(report.Results))
	return report, nil
}

// Rank orders results by confirmed count, most first, then by channel name
func Rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Channel < results[j].Channel
	})
}

// Leaderboard renders a finished check
func Leaderboard(r *Report) *discordgo.MessageEmbed {
	var sb strings.Builder
	for i, res := range r.Results {
		mark := "❌"
		if res.Passing {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "%d. %s %s — %d confirmed\n", i+1, mark, platform.ChannelMention(res.ChannelID), res.Count)
	}
	if sb.Len() == 0 {
		sb.WriteString("No channels were polled.")
	}
	return &discordgo.MessageEmbed{
		Title:       "Activity Check Results",
		Description: strings.TrimSuffix(sb.String(), "\n"),
		Color:       0x3498DB,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Passing threshold: %d", r.Threshold)},
		Timestamp:   r.Ended.Format(time.RFC3339),
	}
}

func pollText(roleID, emoji string, deadline time.Time) string {
	who := "Everyone"
	if roleID != "" {
		who = platform.RoleMention(roleID)
	}
	return fmt.Sprintf("%s, activity check! React with %s if you are still playing. Closes <t:%d:R>.", who, emoji, deadline.Unix())
}

// countUsers counts distinct users, ignoring the bot's own reaction
func countUsers(ids []string, self string) int {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || id == self {
			continue
		}
		seen[id] = true
	}
	return len(seen)
}

// matchRole finds the role whose name matches a channel name, ignoring case
// and punctuation
func matchRole(roles []*platform.Role, channel string) string {
	want := normalize(channel)
	for _, r := range roles {
		if normalize(r.Name) == want {
			return r.ID
		}
	}
	return ""
}

func normalize(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
