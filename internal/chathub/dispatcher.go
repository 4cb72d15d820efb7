package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/samber/lo"
)

// Fanout delivers one event to every live connection of each target user.
type Fanout interface {
	Deliver(ctx context.Context, event any, userIDs ...int64) error
}

// Dispatcher is the in-process Fanout over a Registry.
type Dispatcher struct {
	registry *Registry
	log      *slog.Logger
}

func NewDispatcher(registry *Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: log}
}

// Deliver serializes event once and hands it to DeliverPayload.
func (d *Dispatcher) Deliver(_ context.Context, event any, userIDs ...int64) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	d.DeliverPayload(payload, userIDs...)
	return nil
}

// DeliverPayload sends payload to a snapshot of each user's connections and
// returns how many sends succeeded. A failing connection never stops the
// others, and a user listed twice is only served once.
func (d *Dispatcher) DeliverPayload(payload []byte, userIDs ...int64) int {
	delivered := 0
	for _, userID := range lo.Uniq(userIDs) {
		for _, c := range d.registry.Snapshot(userID) {
			if err := c.Send(payload); err != nil {
				d.log.Debug("Delivery skipped", "user_id", userID, "conn_id", c.ID(), "err", err)
				continue
			}
			delivered++
		}
	}
	return delivered
}
