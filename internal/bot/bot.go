// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"dice-game-bot/internal/config"
	"dice-game-bot/internal/handler"
	"dice-game-bot/internal/service"
)

const defaultPollTimeout = 10 * time.Second

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot   *tele.Bot
	cfg   *config.Config
	users *privateUsers

	accountHandler *handler.AccountHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config   *config.Config
	Identity *service.IdentityResolver
	Accounts *service.AccountService
	Rounds   *service.RoundEngine

	// Offline skips the getMe call on startup. Used by tests.
	Offline bool
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, errors.New("bot token is required")
	}

	timeout := deps.Config.Bot.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	pref := tele.Settings{
		Token:   deps.Config.Bot.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: deps.Offline,
		OnError: func(err error, c tele.Context) {
			ev := log.Error().Err(err)
			if c != nil && c.Sender() != nil {
				ev = ev.Int64("user_id", c.Sender().ID)
			}
			ev.Msg("Bot handler error")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:            teleBot,
		cfg:            deps.Config,
		users:          newPrivateUsers(),
		accountHandler: handler.NewAccountHandler(deps.Identity, deps.Accounts, deps.Rounds, deps.Config.HTTP.PublicURL),
		adminHandler:   handler.NewAdminHandler(deps.Accounts),
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg, b.users))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/help", b.accountHandler.HandleHelp)
	b.bot.Handle("/bind", b.accountHandler.HandleBind)
	b.bot.Handle("/me", b.accountHandler.HandleMe)
	b.bot.Handle("/play", b.accountHandler.HandlePlay)
	b.bot.Handle(tele.OnContact, b.accountHandler.HandleContact)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/admin_register", b.adminHandler.HandleAdminRegister)
	adminGroup.Handle("/admin_block", b.adminHandler.HandleAdminBlock)
	adminGroup.Handle("/admin_unblock", b.adminHandler.HandleAdminUnblock)
}

// Notifier returns a round notifier that sends through this bot.
func (b *Bot) Notifier() *handler.RoundNotifier {
	return handler.NewRoundNotifier(b.bot)
}

// Run polls for updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.Stop()
	}()

	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
	return nil
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
