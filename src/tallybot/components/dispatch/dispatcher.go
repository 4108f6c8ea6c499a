package dispatch

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/stake-plus/tally-gov-bot/src/shared/data"
)

// Kind classifies a notification event.
type Kind string

const (
	KindNew           Kind = "NEW"
	KindStatusChanged Kind = "STATUS_CHANGED"
)

// Event is an ephemeral change notification produced by one reconciliation
// pass. It is not persisted beyond the dispatch attempt.
type Event struct {
	ID         string
	DaoSlug    string
	DaoName    string
	ProposalID string
	Title      string
	Kind       Kind
	OldStatus  string
	NewStatus  string
}

// Deliverer sends one message to one user over the chat transport.
type Deliverer interface {
	Deliver(userID, message string) error
}

// Formatter renders an event into a chat message.
type Formatter func(Event) string

// Dispatcher fans an event out to every subscriber of the event's DAO.
// Deliveries are independent per user; one failure never blocks the rest.
type Dispatcher struct {
	store     *data.Store
	transport Deliverer
	rdb       *redis.Client
	format    Formatter
}

func NewDispatcher(store *data.Store, transport Deliverer, rdb *redis.Client, format Formatter) *Dispatcher {
	return &Dispatcher{store: store, transport: transport, rdb: rdb, format: format}
}

// Dispatch resolves the subscriber set and attempts one delivery per user.
// Returns the number of successful deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) int {
	users, err := d.store.SubscribersFor(ev.DaoSlug)
	if err != nil {
		log.Printf("dispatch: resolve subscribers for %s: %v", ev.DaoSlug, err)
		return 0
	}
	if len(users) == 0 {
		return 0
	}

	message := d.format(ev)
	delivered := 0
	for _, userID := range users {
		if err := d.transport.Deliver(userID, message); err != nil {
			log.Printf("dispatch: deliver %s/%s to %s: %v", ev.DaoSlug, ev.ProposalID, userID, err)
			continue
		}
		delivered++
	}

	if d.rdb != nil {
		err := data.PublishEvent(ctx, d.rdb, map[string]interface{}{
			"id":          ev.ID,
			"dao":         ev.DaoSlug,
			"proposal":    ev.ProposalID,
			"kind":        string(ev.Kind),
			"old_status":  ev.OldStatus,
			"new_status":  ev.NewStatus,
			"subscribers": len(users),
		})
		if err != nil {
			log.Printf("dispatch: publish event %s: %v", ev.ID, err)
		}
	}

	return delivered
}
