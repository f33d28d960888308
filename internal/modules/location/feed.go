// README: Driver location feed; periodic position publishing for map display.
// Never part of the trip state machine.
package location

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"tripsync/internal/modules/push"
	"tripsync/internal/types"
)

// Provider is the geolocation collaborator: whatever supplies the device's
// current coordinates.
type Provider interface {
	Position(ctx context.Context) (types.Point, error)
}

// minMoveKm suppresses re-publishing when the vehicle has effectively not
// moved since the last tick.
const minMoveKm = 0.005

// Feed publishes the driver's position to the counterpart's trip topic on a
// fixed tick. Consumed only for map display; the receiving normalizer maps it
// to a display-only event.
type Feed struct {
	provider Provider
	pub      push.Publisher
	clk      clock.Clock
	interval time.Duration
	log      *zap.Logger

	last *types.Point
}

func NewFeed(provider Provider, pub push.Publisher, interval time.Duration, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		provider: provider,
		pub:      pub,
		clk:      clock.New(),
		interval: interval,
		log:      log,
	}
}

// WithClock replaces the wall clock; tests drive ticks manually.
func (f *Feed) WithClock(clk clock.Clock) *Feed {
	f.clk = clk
	return f
}

// Run ticks until ctx is cancelled, publishing positions for the given trip
// to the counterpart's topic. Provider and publish failures are logged and
// skipped; the feed never takes a session down.
func (f *Feed) Run(ctx context.Context, tripID, counterpartID types.ID) {
	ticker := f.clk.Ticker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.publishOnce(ctx, tripID, counterpartID)
		}
	}
}

func (f *Feed) publishOnce(ctx context.Context, tripID, counterpartID types.ID) {
	pos, err := f.provider.Position(ctx)
	if err != nil {
		f.log.Warn("geolocation read failed", zap.Error(err))
		return
	}
	if f.last != nil && haversineKm(*f.last, pos) < minMoveKm {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"type":     "driver_location_update",
		"trip_id":  tripID,
		"location": map[string]float64{"lat": pos.Lat, "lng": pos.Lng},
	})
	if err != nil {
		f.log.Error("marshal location", zap.Error(err))
		return
	}
	if err := f.pub.Publish(ctx, push.TripTopic(counterpartID), payload); err != nil {
		f.log.Warn("location publish failed", zap.Error(err))
		return
	}
	p := pos
	f.last = &p
}
