package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"github.com/stake-plus/tally-gov-bot/src/shared/tally"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/dispatch"
)

const (
	MaxDiscordMessageLen = 2000
	SafeChunkLen         = 1900
)

// Upstream titles can carry HTML; strip everything before it reaches chat.
var titlePolicy = bluemonday.StrictPolicy()

// SanitizeTitle strips markup from an upstream proposal title.
func SanitizeTitle(title string) string {
	return strings.TrimSpace(titlePolicy.Sanitize(title))
}

// ProposalURL builds the public Tally link for a proposal.
func ProposalURL(daoSlug, proposalID string) string {
	return fmt.Sprintf("https://www.tally.xyz/gov/%s/proposal/%s", daoSlug, proposalID)
}

// FormatEvent renders a notification event as a chat message.
func FormatEvent(ev dispatch.Event) string {
	var b strings.Builder

	name := ev.DaoName
	if name == "" {
		name = ev.DaoSlug
	}

	switch ev.Kind {
	case dispatch.KindNew:
		fmt.Fprintf(&b, "🆕 New proposal in **%s**\n\n", name)
	case dispatch.KindStatusChanged:
		fmt.Fprintf(&b, "🔄 Status changed in **%s**: %s → %s\n\n", name, ev.OldStatus, ev.NewStatus)
	}

	title := SanitizeTitle(ev.Title)
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&b, "**%s**\n", title)
	fmt.Fprintf(&b, "Status: %s\n", ev.NewStatus)
	fmt.Fprintf(&b, "Link: %s", ProposalURL(ev.DaoSlug, ev.ProposalID))
	return b.String()
}

// FormatProposal renders one proposal line for the recent-proposals listing.
func FormatProposal(p tally.Proposal, daoSlug string) string {
	var b strings.Builder
	title := SanitizeTitle(p.Title)
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&b, "- **%s**\n", title)
	fmt.Fprintf(&b, "  Status: %s\n", p.Status)
	if !p.Start.IsZero() {
		fmt.Fprintf(&b, "  Start: %s\n", p.Start.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	if !p.End.IsZero() {
		fmt.Fprintf(&b, "  End: %s\n", p.End.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(&b, "  Link: %s", ProposalURL(daoSlug, p.ID))
	return b.String()
}

// FormatSubscriptions renders the subscription list.
func FormatSubscriptions(daos []gov.Dao) string {
	if len(daos) == 0 {
		return "You're not subscribed to any DAOs. Use /subscribe to add one."
	}
	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for _, dao := range daos {
		fmt.Fprintf(&b, "- %s (%s)\n", dao.Name, dao.Slug)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatMatches renders fuzzy candidates for disambiguation.
func FormatMatches(header string, slugs []string) string {
	var b strings.Builder
	b.WriteString(header)
	for i, slug := range slugs {
		fmt.Fprintf(&b, "\n%d. %s", i+1, slug)
	}
	b.WriteString("\n\nReply with a number, a slug, or `cancel`.")
	return b.String()
}

// SplitMessage chunks a long message below Discord's hard limit, breaking on
// paragraph boundaries where possible.
func SplitMessage(message string) []string {
	if len(message) <= MaxDiscordMessageLen {
		return []string{message}
	}

	var chunks []string
	var current strings.Builder
	for _, paragraph := range strings.Split(message, "\n\n") {
		for len(paragraph) > SafeChunkLen {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, paragraph[:SafeChunkLen])
			paragraph = paragraph[SafeChunkLen:]
		}
		if current.Len()+len(paragraph)+2 > SafeChunkLen {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// Timestamp formats an event time for embeds.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
