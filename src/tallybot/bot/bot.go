package bot

import (
	"context"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"github.com/stake-plus/tally-gov-bot/src/discord"
	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/tally"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/directory"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/dispatch"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/reconcile"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/session"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/subscription"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/config"
	"gorm.io/gorm"
)

type Config struct {
	App   config.Config
	DB    *gorm.DB
	Redis *redis.Client
}

type Bot struct {
	session     *discordgo.Session
	db          *gorm.DB
	rdb         *redis.Client
	cfg         config.Config
	store       *data.Store
	tallyClient *tally.Client
	directory   *directory.Manager
	subs        *subscription.Manager
	dispatcher  *dispatch.Dispatcher
	engine      *reconcile.Engine
	sessions    *session.Manager
	limiter     *components.RateLimiter
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once
}

func New(cfg Config) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.App.Token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	bot := &Bot{
		session: dg,
		db:      cfg.DB,
		rdb:     cfg.Redis,
		cfg:     cfg.App,
		ctx:     ctx,
		cancel:  cancel,
	}

	bot.initializeComponents()
	bot.registerHandlers()

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return bot, nil
}

func (b *Bot) initializeComponents() {
	b.store = data.NewStore(b.db)

	b.tallyClient = tally.NewClient(tally.Config{
		Endpoint: b.cfg.TallyEndpoint,
		APIKey:   b.cfg.TallyAPIKey,
	})

	b.directory = directory.NewManager(b.store, b.tallyClient, b.cfg.CacheExpiry)
	b.subs = subscription.NewManager(b.store, b.directory, b.cfg.MaxSubscriptions)

	transport := discord.NewTransport(b.session)
	b.dispatcher = dispatch.NewDispatcher(b.store, transport, b.rdb, discord.FormatEvent)
	b.engine = reconcile.NewEngine(b.store, b.tallyClient, b.directory, b.dispatcher, b.cfg.TrackedProposalsPerDao)

	b.sessions = session.NewManager()
	b.limiter = components.NewRateLimiter(b.cfg.CommandCooldown)
}

func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(b.handleMessageCreate)
}

// Store, Directory and Engine back the status webserver.
func (b *Bot) Store() *data.Store            { return b.store }
func (b *Bot) Directory() *directory.Manager { return b.directory }
func (b *Bot) Engine() *reconcile.Engine     { return b.engine }

func (b *Bot) Start() error {
	b.directory.Bootstrap(b.ctx)
	return b.session.Open()
}

func (b *Bot) Stop() {
	b.cancel()
	b.wg.Wait()
	b.session.Close()
}

func (b *Bot) handleReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Discord bot logged in as %s", event.User.Username)

	if err := discord.RegisterSlashCommands(s, b.cfg.GuildID); err != nil {
		log.Printf("Failed to register slash commands: %v", err)
	}

	// Ready fires again on reconnect; the loops start once.
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.directory.Run(b.ctx, b.cfg.DaoUpdateInterval)
		}()

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.engine.Run(b.ctx, b.cfg.ReconcileInterval)
		}()
	})
}
