package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/tally"
	"gorm.io/gorm"
)

type Config struct {
	Token         string
	GuildID       string
	TallyAPIKey   string
	TallyEndpoint string
	MySQLDSN      string
	RedisURL      string
	Port          string

	MaxSubscriptions       int
	MaxProposals           int
	TrackedProposalsPerDao int
	DaoUpdateInterval      time.Duration
	ReconcileInterval      time.Duration
	CacheExpiry            time.Duration
	CommandCooldown        time.Duration
}

func Load(db *gorm.DB) Config {
	// Load settings from database
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}

	// Get values from database with env fallbacks
	discordToken := data.GetSetting("discord_token")
	if discordToken == "" {
		discordToken = os.Getenv("DISCORD_TOKEN")
	}

	guildID := data.GetSetting("guild_id")
	if guildID == "" {
		guildID = os.Getenv("GUILD_ID")
	}

	tallyAPIKey := data.GetSetting("tally_api_key")
	if tallyAPIKey == "" {
		tallyAPIKey = os.Getenv("TALLY_API_KEY")
	}

	tallyEndpoint := data.GetSetting("tally_api_url")
	if tallyEndpoint == "" {
		tallyEndpoint = getenv("TALLY_API_URL", tally.DefaultEndpoint)
	}

	return Config{
		Token:         discordToken,
		GuildID:       guildID,
		TallyAPIKey:   tallyAPIKey,
		TallyEndpoint: tallyEndpoint,
		MySQLDSN:      getenv("MYSQL_DSN", "tallybot:tallybot@tcp(127.0.0.1:3306)/tallybot"),
		RedisURL:      getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		Port:          getenv("PORT", "8090"),

		MaxSubscriptions:       getenvInt("MAX_SUBSCRIPTIONS", 10),
		MaxProposals:           getenvInt("MAX_PROPOSALS", 5),
		TrackedProposalsPerDao: getenvInt("TRACKED_PROPOSALS_PER_DAO", 20),
		DaoUpdateInterval:      getenvSeconds("DAO_UPDATE_INTERVAL", 3600),
		ReconcileInterval:      getenvSeconds("RECONCILE_INTERVAL", 300),
		CacheExpiry:            getenvDuration("CACHE_EXPIRY", 240*time.Hour),
		CommandCooldown:        getenvDuration("COMMAND_COOLDOWN", 3*time.Second),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getenvSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getenvInt(key, defSeconds)) * time.Second
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
