package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/activity"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/audit"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/catalog"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/config"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/coord"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/panel"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/storage"
)

const (
	openAttempts   = 5
	openBackoff    = time.Second
	commandTimeout = 2 * time.Minute
	restoreTimeout = time.Minute
)

// Options tune how the bot starts
type Options struct {
	// RegisterCommands publishes the slash command set on Start
	RegisterCommands bool
}

// Bot represents the Discord bot instance
type Bot struct {
	opts    Options
	appID   string
	session *discordgo.Session
	store   *storage.Store
	catalog *catalog.Catalog
	panels  *panel.Materializer
	poller  *activity.Poller
	handler *Handler
}

// New creates a new Bot instance
func New(ctx context.Context, cfg *config.Config, opts Options) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions

	cat := catalog.Default()
	if cfg.FlagCatalog != "" {
		if cat, err = catalog.LoadFile(cfg.FlagCatalog); err != nil {
			return nil, fmt.Errorf("failed to load flag catalog: %w", err)
		}
	}

	// Initialize storage
	store, err := storage.Open(ctx, storage.Options{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		Catalog:  cat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	plat := platform.NewDiscord(session)
	panels := panel.NewMaterializer(store, cat, plat, cfg.PanelRefreshTimeout)
	auditor := audit.New(store, plat)
	poller := activity.New(plat, auditor, activity.Options{
		Expiry:        cfg.ActivityExpiry,
		Threshold:     cfg.ActivityThreshold,
		Emoji:         cfg.ActivityEmoji,
		AlertsChannel: cfg.AlertsChannel,
	})

	b := &Bot{
		opts:    opts,
		appID:   cfg.ApplicationID,
		session: session,
		store:   store,
		catalog: cat,
		panels:  panels,
		poller:  poller,
		handler: NewHandler(Services{
			Coord: coord.New(coord.Deps{
				Store:    store,
				Catalog:  cat,
				Platform: plat,
				Panels:   panels,
				Audit:    auditor,
			}),
			Panels:   panels,
			Sessions: panel.NewSessions(cfg.SessionTimeout),
			Activity: poller,
			Audit:    auditor,
			Platform: plat,
		}),
	}

	// Register event handlers
	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and registers commands
func (b *Bot) Start(ctx context.Context) error {
	if err := openWithBackoff(ctx, b.session.Open, openAttempts, openBackoff); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	if b.opts.RegisterCommands {
		if err := b.registerCommands(); err != nil {
			return fmt.Errorf("failed to register commands: %w", err)
		}
	}
	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	var errs []error

	// Close Discord session first so no new interactions arrive
	if b.session != nil {
		if err := b.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Discord session: %w", err))
		}
	}

	// Cancel waiting activity checks
	if b.poller != nil {
		b.poller.Stop()
	}

	if b.store != nil {
		if err := b.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
	}
	return errors.Join(errs...)
}

// openWithBackoff retries open with exponential backoff starting at base
func openWithBackoff(ctx context.Context, open func() error, attempts int, base time.Duration) error {
	delay := base
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = open(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		slog.Warn("Failed to connect, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
		go b.restorePanels()
	})
}

// restorePanels rebinds stored panels once the gateway is ready
func (b *Bot) restorePanels() {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if _, err := b.panels.Restore(ctx); err != nil {
		slog.Error("Failed to restore flag panels", "error", err)
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	registered, err := b.session.ApplicationCommandBulkOverwrite(applicationID(b.appID, b.session.State), "", commandDefinitions(b.catalog))
	if err != nil {
		return err
	}
	slog.Info("Slash commands registered", "count", len(registered))
	return nil
}

// applicationID prefers the configured id and falls back to the bot user,
// which shares its id with the application
func applicationID(configured string, state *discordgo.State) string {
	if configured != "" {
		return configured
	}
	if state == nil || state.User == nil {
		return ""
	}
	return state.User.ID
}

// handleInteraction routes slash commands and panel components
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		respondWithMessage(s, i, "This bot only works inside a server.")
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guildID", i.GuildID)

	// Respond immediately to avoid timeout
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		slog.Error("Failed to acknowledge command", "command", data.Name, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply := b.handler.Command(ctx, Invocation{
		GuildID: i.GuildID,
		UserID:  i.Member.User.ID,
		Admin:   isAdmin(i.Member),
		Name:    data.Name,
		Args:    argsFrom(data.Options),
	})
	editResponse(s, i, reply)
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()
	slog.Debug("Received component", "customID", data.CustomID, "guildID", i.GuildID)

	// Panel buttons open a fresh ephemeral selector; selector steps update it.
	ack := discordgo.InteractionResponseDeferredMessageUpdate
	var ackData *discordgo.InteractionResponseData
	if IsButton(data.CustomID) {
		ack = discordgo.InteractionResponseDeferredChannelMessageWithSource
		ackData = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: ack, Data: ackData}); err != nil {
		slog.Error("Failed to acknowledge component", "customID", data.CustomID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	press := Press{
		GuildID:  i.GuildID,
		UserID:   i.Member.User.ID,
		Admin:    isAdmin(i.Member),
		CustomID: data.CustomID,
		Values:   data.Values,
	}
	if i.Message != nil {
		press.MessageID = i.Message.ID
	}
	editResponse(s, i, b.handler.Component(ctx, press))
}

func isAdmin(m *discordgo.Member) bool {
	return m != nil && m.Permissions&discordgo.PermissionAdministrator != 0
}

// Helper functions

func respondWithMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Error("Failed to respond", "error", err)
	}
}

func editResponse(s *discordgo.Session, i *discordgo.InteractionCreate, r Reply) {
	edit := &discordgo.WebhookEdit{Content: &r.Content}
	if r.Embeds != nil {
		edit.Embeds = &r.Embeds
	}
	components := r.Components
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	edit.Components = &components

	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		slog.Error("Failed to edit interaction response", "error", platform.MapErr(err))
	}
}
