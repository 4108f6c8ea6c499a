package discord

import (
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	CommandSubscribe     = "subscribe"
	CommandUnsubscribe   = "unsubscribe"
	CommandSubscriptions = "subscriptions"
	CommandProposals     = "proposals"
	CommandHelp          = "help"
)

var commandDefinitions = map[string]*discordgo.ApplicationCommand{
	CommandSubscribe: {
		Name:        CommandSubscribe,
		Description: "Subscribe to governance updates for a DAO",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "dao",
				Description: "DAO slug or name (fuzzy matched)",
				Required:    false,
			},
		},
	},
	CommandUnsubscribe: {
		Name:        CommandUnsubscribe,
		Description: "Unsubscribe from a DAO",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "dao",
				Description: "DAO slug",
				Required:    true,
			},
		},
	},
	CommandSubscriptions: {
		Name:        CommandSubscriptions,
		Description: "List your DAO subscriptions",
	},
	CommandProposals: {
		Name:        CommandProposals,
		Description: "Show recent proposals for your subscribed DAOs",
	},
	CommandHelp: {
		Name:        CommandHelp,
		Description: "Show available commands",
	},
}

var defaultCommandOrder = []string{
	CommandSubscribe,
	CommandUnsubscribe,
	CommandSubscriptions,
	CommandProposals,
	CommandHelp,
}

// RegisterSlashCommands registers the requested slash commands for a guild.
// When no command names are provided, all known commands are registered.
func RegisterSlashCommands(s *discordgo.Session, guildID string, names ...string) error {
	if guildID == "" {
		return fmt.Errorf("discord: guildID is required to register slash commands")
	}

	if len(names) == 0 {
		names = defaultCommandOrder
	}

	var failures []string
	for _, name := range names {
		definition, ok := commandDefinitions[name]
		if !ok {
			log.Printf("discord: unknown slash command %q", name)
			continue
		}

		_, err := s.ApplicationCommandCreate(s.State.User.ID, guildID, definition)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			log.Printf("discord: failed to register command %q: %v", name, err)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("discord: slash command registration errors: %s", strings.Join(failures, "; "))
	}

	return nil
}

// HelpText is the reply for the help command.
func HelpText() string {
	return strings.Join([]string{
		"Available commands:",
		"/subscribe - Subscribe to a DAO",
		"/unsubscribe - Unsubscribe from a DAO",
		"/subscriptions - View your current subscriptions",
		"/proposals - Check recent proposals",
		"/help - Show this help message",
	}, "\n")
}
