// Package events delivers committed ledger events to the outside world.
package events

import (
	"context"

	"github.com/playmatatu/escrow/internal/escrow"
	gometrics "github.com/rcrowley/go-metrics"
)

// Multi publishes to every sink in order and returns the first error.
type Multi []escrow.Sink

func (m Multi) Publish(ctx context.Context, rec escrow.Record) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Counter counts published events per kind.
type Counter struct {
	registry gometrics.Registry
}

func NewCounter(r gometrics.Registry) *Counter {
	return &Counter{registry: r}
}

func (c *Counter) Publish(_ context.Context, rec escrow.Record) error {
	gometrics.GetOrRegisterCounter("events."+string(rec.Kind), c.registry).Inc(1)
	return nil
}

// GameOf returns the game an event belongs to.
func GameOf(ev escrow.Event) (escrow.GameID, bool) {
	switch e := ev.(type) {
	case escrow.GameCreated:
		return e.GameID, true
	case escrow.PlayerJoined:
		return e.GameID, true
	case escrow.WinnerProposed:
		return e.GameID, true
	case escrow.MediationRequested:
		return e.GameID, true
	case escrow.GameEnded:
		return e.GameID, true
	}
	return 0, false
}
