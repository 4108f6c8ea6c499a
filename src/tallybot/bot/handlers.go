package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stake-plus/tally-gov-bot/src/discord"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/fuzzy"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/session"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/subscription"
)

const (
	disambiguationLimit = 5
	commandTimeout      = 30 * time.Second
)

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("bot: interaction respond: %v", err)
	}
}

func respondDeferred(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func followUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	for _, chunk := range discord.SplitMessage(content) {
		_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Content: chunk,
			Flags:   discordgo.MessageFlagsEphemeral,
		})
		if err != nil {
			log.Printf("bot: follow-up: %v", err)
			return
		}
	}
}

func commandOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name {
			return strings.TrimSpace(opt.StringValue())
		}
	}
	return ""
}

func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	userID := interactionUserID(i)
	if userID == "" {
		return
	}

	if !b.limiter.CanUse(userID) {
		wait := b.limiter.TimeUntilNext(userID)
		respond(s, i, fmt.Sprintf("Please wait %.0f seconds before using another command.", wait.Seconds()))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	switch i.ApplicationCommandData().Name {
	case discord.CommandSubscribe:
		query := commandOption(i, "dao")
		if query == "" {
			b.sessions.Set(userID, session.AwaitingSlug, nil)
			respond(s, i, "Please send me a DM with the DAO slug or name you want to subscribe to.")
			return
		}
		if err := respondDeferred(s, i); err != nil {
			log.Printf("bot: defer subscribe: %v", err)
			return
		}
		followUp(s, i, b.startSubscribe(ctx, userID, query))

	case discord.CommandUnsubscribe:
		slug := commandOption(i, "dao")
		respond(s, i, b.handleUnsubscribe(userID, slug))

	case discord.CommandSubscriptions:
		respond(s, i, b.listSubscriptions(userID))

	case discord.CommandProposals:
		if err := respondDeferred(s, i); err != nil {
			log.Printf("bot: defer proposals: %v", err)
			return
		}
		followUp(s, i, b.recentProposals(ctx, userID))

	case discord.CommandHelp:
		respond(s, i, discord.HelpText())
	}
}

// handleMessageCreate drives the DM conversation for multi-step subscribe.
func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return
	}

	state := b.sessions.Get(m.Author.ID)
	if state.State == session.Idle {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	text := strings.TrimSpace(m.Content)
	var reply string
	switch state.State {
	case session.AwaitingSlug:
		reply = b.startSubscribe(ctx, m.Author.ID, text)
	case session.AwaitingDisambiguation:
		reply = b.resolveDisambiguation(ctx, m.Author.ID, text, state.Matches)
	}

	if reply != "" {
		if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
			log.Printf("bot: reply to %s: %v", m.Author.ID, err)
		}
	}
}

// startSubscribe resolves free text against the directory and either
// subscribes directly or asks the user to disambiguate.
func (b *Bot) startSubscribe(ctx context.Context, userID, query string) string {
	if b.directory.IsStale() {
		// Serve from the stale cache; freshen in the background.
		go func() {
			refreshCtx, cancel := context.WithTimeout(b.ctx, 2*time.Minute)
			defer cancel()
			if err := b.directory.Refresh(refreshCtx); err != nil {
				log.Printf("bot: background directory refresh: %v", err)
			}
		}()
	}

	matches := b.subs.Resolve(query)
	switch {
	case len(matches) == 0:
		b.sessions.Set(userID, session.AwaitingSlug, nil)
		return fmt.Sprintf("Sorry, I couldn't find a DAO matching '%s'. Try another slug or name, or `cancel`.", query)

	case matches[0].Exact || len(matches) == 1:
		b.sessions.Clear(userID)
		return b.doSubscribe(ctx, userID, matches[0].Slug)

	default:
		if len(matches) > disambiguationLimit {
			matches = matches[:disambiguationLimit]
		}
		b.sessions.Set(userID, session.AwaitingDisambiguation, matches)
		options := make([]string, 0, len(matches))
		for _, match := range matches {
			options = append(options, fmt.Sprintf("%s (%s)", match.Slug, match.Name))
		}
		return discord.FormatMatches(fmt.Sprintf("I couldn't find '%s' exactly. Did you mean:", query), options)
	}
}

func (b *Bot) resolveDisambiguation(ctx context.Context, userID, text string, matches []fuzzy.Match) string {
	if strings.EqualFold(text, "cancel") {
		b.sessions.Clear(userID)
		return "Subscription cancelled."
	}

	if n, err := strconv.Atoi(text); err == nil {
		if n < 1 || n > len(matches) {
			return fmt.Sprintf("Please pick a number between 1 and %d, or `cancel`.", len(matches))
		}
		b.sessions.Clear(userID)
		return b.doSubscribe(ctx, userID, matches[n-1].Slug)
	}

	lowered := strings.ToLower(text)
	for _, match := range matches {
		if match.Slug == lowered {
			b.sessions.Clear(userID)
			return b.doSubscribe(ctx, userID, match.Slug)
		}
	}

	// Treat anything else as a fresh query.
	return b.startSubscribe(ctx, userID, text)
}

func (b *Bot) doSubscribe(ctx context.Context, userID, slug string) string {
	// Seed snapshots before the first subscriber lands so the next sweep
	// does not announce the whole backlog as new.
	first, err := b.subs.FirstSubscriber(slug)
	if err != nil {
		log.Printf("bot: first-subscriber check for %s: %v", slug, err)
		return "Something went wrong. Please try again later."
	}
	if first {
		if err := b.engine.Seed(ctx, slug); err != nil {
			log.Printf("bot: seed %s: %v", slug, err)
		}
	}

	dao, err := b.subs.Subscribe(userID, slug)
	switch {
	case errors.Is(err, subscription.ErrLimitExceeded):
		return fmt.Sprintf("You've reached the maximum number of subscriptions (%d). Unsubscribe from a DAO before adding a new one.", b.cfg.MaxSubscriptions)
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		return fmt.Sprintf("You're already subscribed to %s.", slug)
	case errors.Is(err, subscription.ErrNotFound):
		return fmt.Sprintf("Sorry, I couldn't find a DAO with the slug '%s'.", slug)
	case err != nil:
		log.Printf("bot: subscribe %s to %s: %v", userID, slug, err)
		return "Something went wrong. Please try again later."
	}

	return fmt.Sprintf("You've successfully subscribed to %s (slug: %s)!", dao.Name, dao.Slug)
}

func (b *Bot) handleUnsubscribe(userID, slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	err := b.subs.Unsubscribe(userID, slug)
	switch {
	case errors.Is(err, subscription.ErrNotSubscribed):
		return fmt.Sprintf("You weren't subscribed to %s.", slug)
	case err != nil:
		log.Printf("bot: unsubscribe %s from %s: %v", userID, slug, err)
		return "Something went wrong. Please try again later."
	}
	return fmt.Sprintf("You've successfully unsubscribed from %s.", slug)
}

func (b *Bot) listSubscriptions(userID string) string {
	daos, err := b.subs.List(userID)
	if err != nil {
		log.Printf("bot: list subscriptions for %s: %v", userID, err)
		return "Something went wrong. Please try again later."
	}
	return discord.FormatSubscriptions(daos)
}

func (b *Bot) recentProposals(ctx context.Context, userID string) string {
	daos, err := b.subs.List(userID)
	if err != nil {
		log.Printf("bot: list subscriptions for %s: %v", userID, err)
		return "Something went wrong. Please try again later."
	}
	if len(daos) == 0 {
		return "You're not subscribed to any DAOs. Use /subscribe to add a DAO."
	}

	var b2 strings.Builder
	for _, dao := range daos {
		orgID := dao.OrgID
		if orgID == "" {
			org, err := b.tallyClient.GetOrganization(ctx, dao.Slug)
			if err != nil {
				fmt.Fprintf(&b2, "Couldn't fetch information for %s.\n\n", dao.Slug)
				continue
			}
			orgID = org.ID
		}

		proposals, err := b.tallyClient.RecentProposals(ctx, orgID, b.cfg.MaxProposals)
		if err != nil {
			log.Printf("bot: recent proposals for %s: %v", dao.Slug, err)
			fmt.Fprintf(&b2, "Couldn't fetch proposals for %s.\n\n", dao.Name)
			continue
		}

		if len(proposals) == 0 {
			fmt.Fprintf(&b2, "No recent proposals found for %s.\n\n", dao.Name)
			continue
		}

		fmt.Fprintf(&b2, "Recent proposals for %s:\n\n", dao.Name)
		for _, p := range proposals {
			b2.WriteString(discord.FormatProposal(p, dao.Slug))
			b2.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b2.String(), "\n")
}
