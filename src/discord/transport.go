package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Transport delivers notifications to users over Discord DMs. It satisfies
// the dispatcher's Deliverer contract.
type Transport struct {
	session *discordgo.Session
}

func NewTransport(session *discordgo.Session) *Transport {
	return &Transport{session: session}
}

// Deliver opens (or reuses) the user's DM channel and sends the message,
// chunked when it exceeds the Discord limit.
func (t *Transport) Deliver(userID, message string) error {
	channel, err := t.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("discord: open DM for %s: %w", userID, err)
	}
	for _, chunk := range SplitMessage(message) {
		if _, err := t.session.ChannelMessageSend(channel.ID, chunk); err != nil {
			return fmt.Errorf("discord: send to %s: %w", userID, err)
		}
	}
	return nil
}
