// README: In-memory trip coordinator for the sim harness: authoritative trip
// records, per-trip seq assignment, push fan-out on every accepted mutation.
package simserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tripsync/internal/modules/push"
	"tripsync/internal/modules/trip"
	"tripsync/internal/types"
)

var (
	ErrNotFound     = errors.New("trip not found")
	ErrInvalidState = errors.New("invalid state transition")
	ErrBadRequest   = errors.New("bad request")
)

// Publisher is push.Publisher re-stated locally; tests inject a recorder,
// production wiring passes push.NewRedisPublisher.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Trip is the server-side record. Seq increments on every accepted mutation;
// REST responses and push events for the same mutation carry the same seq.
type Trip struct {
	ID          types.ID
	PassengerID types.ID
	DriverID    types.ID
	Status      trip.Phase
	Flags       trip.Flags
	Seq         int64
	Pickup      types.Point
	Dropoff     types.Point
	Reason      string
}

// Coordinator owns the trip table. It reuses the client's phase table so the
// sim server only ever emits event sequences the engine considers legal.
type Coordinator struct {
	mu    sync.Mutex
	trips map[types.ID]*Trip
	pub   Publisher
	log   *zap.Logger
}

func NewCoordinator(pub Publisher, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{trips: make(map[types.ID]*Trip), pub: pub, log: log}
}

type Record struct {
	TripID      types.ID `json:"trip_id"`
	Status      string   `json:"status"`
	Seq         int64    `json:"seq"`
	PassengerID types.ID `json:"passenger_id"`
	DriverID    types.ID `json:"driver_id,omitempty"`
}

func record(t *Trip) Record {
	return Record{
		TripID:      t.ID,
		Status:      string(t.Status),
		Seq:         t.Seq,
		PassengerID: t.PassengerID,
		DriverID:    t.DriverID,
	}
}

// Request creates a trip in searching and broadcasts the offer to drivers.
func (c *Coordinator) Request(ctx context.Context, passengerID types.ID, pickup, dropoff types.Point) (Record, error) {
	if passengerID == "" || pickup.IsZero() || dropoff.IsZero() {
		return Record{}, ErrBadRequest
	}
	t := &Trip{
		ID:          types.ID(uuid.NewString()),
		PassengerID: passengerID,
		Status:      trip.PhaseSearching,
		Seq:         1,
		Pickup:      pickup,
		Dropoff:     dropoff,
	}
	c.mu.Lock()
	c.trips[t.ID] = t
	rec := record(t)
	c.mu.Unlock()

	c.publish(ctx, push.TopicNewTrips, map[string]any{
		"type":         "new_trip_request",
		"trip_id":      t.ID,
		"seq":          t.Seq,
		"passenger_id": t.PassengerID,
		"pickup":       pointJSON(t.Pickup),
		"dropoff":      pointJSON(t.Dropoff),
	})
	return rec, nil
}

func (c *Coordinator) Get(_ context.Context, tripID types.ID) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trips[tripID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record(t), nil
}

// Accept assigns the driver and moves the trip to pickup. The matched event
// is pushed to both parties; the accepting driver's REST response carries the
// same seq, so whichever copy lands first wins and the other is a no-op.
func (c *Coordinator) Accept(ctx context.Context, tripID, driverID types.ID) (Record, error) {
	return c.mutate(ctx, tripID, func(t *Trip) (map[string]any, error) {
		if driverID == "" {
			return nil, ErrBadRequest
		}
		if !trip.CanTransition(t.Status, trip.PhasePickup) {
			return nil, ErrInvalidState
		}
		t.Status = trip.PhasePickup
		t.DriverID = driverID
		return map[string]any{
			"type":         "matched",
			"driver_id":    t.DriverID,
			"passenger_id": t.PassengerID,
		}, nil
	})
}

// Reject declines an offer; the trip stays searching for another driver.
func (c *Coordinator) Reject(_ context.Context, tripID, driverID types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trips[tripID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != trip.PhaseSearching {
		return ErrInvalidState
	}
	c.log.Info("trip offer rejected", zap.String("trip_id", string(tripID)), zap.String("driver_id", string(driverID)))
	return nil
}

func (c *Coordinator) Cancel(ctx context.Context, tripID types.ID, by types.Role, reason string) (Record, error) {
	return c.mutate(ctx, tripID, func(t *Trip) (map[string]any, error) {
		if !trip.CanTransition(t.Status, trip.PhaseCancelled) {
			return nil, ErrInvalidState
		}
		t.Status = trip.PhaseCancelled
		t.Reason = reason
		return map[string]any{
			"type":   "status_changed",
			"status": string(trip.PhaseCancelled),
			"reason": reason,
			"by":     string(by),
		}, nil
	})
}

func (c *Coordinator) Arrive(ctx context.Context, tripID types.ID) (Record, error) {
	return c.mutate(ctx, tripID, func(t *Trip) (map[string]any, error) {
		if !trip.CanTransition(t.Status, trip.PhaseArrived) {
			return nil, ErrInvalidState
		}
		t.Status = trip.PhaseArrived
		return map[string]any{"type": "driver_arrived"}, nil
	})
}

func (c *Coordinator) Dropoff(ctx context.Context, tripID types.ID) (Record, error) {
	return c.mutate(ctx, tripID, func(t *Trip) (map[string]any, error) {
		if !trip.CanTransition(t.Status, trip.PhaseDropoff) {
			return nil, ErrInvalidState
		}
		t.Status = trip.PhaseDropoff
		return map[string]any{"type": "dropoff_arrived"}, nil
	})
}

// Start records one party's start confirmation; the phase advances once both
// are in, mirroring the client-side flag merge.
func (c *Coordinator) Start(ctx context.Context, tripID types.ID, by types.Role) (Record, error) {
	return c.mutate(ctx, tripID, func(t *Trip) (map[string]any, error) {
		if t.Status != trip.PhasePickup && t.Status != trip.PhaseArrived {
			return nil, ErrInvalidState
		}
		switch by {
		case types.RolePassenger:
			t.Flags.PassengerStarted = true
		case types.RoleDriver:
			t.Flags.DriverStarted = true
		default:
			return nil, ErrBadRequest
		}
		if t.Flags.BothStarted() {
			t.Status = trip.PhaseOngoing
		}
		return map[string]any{"type": "start_ack", "by": string(by)}, nil
	})
}

func (c *Coordinator) Complete(ctx context.Context, tripID types.ID, by types.Role) (Record, error) {
	return c.mutate(ctx, tripID, func(t *Trip) (map[string]any, error) {
		if t.Status != trip.PhaseDropoff {
			return nil, ErrInvalidState
		}
		switch by {
		case types.RolePassenger:
			t.Flags.PassengerCompleted = true
		case types.RoleDriver:
			t.Flags.DriverCompleted = true
		default:
			return nil, ErrBadRequest
		}
		if t.Flags.BothCompleted() {
			t.Status = trip.PhaseFinished
		}
		return map[string]any{"type": "complete_ack", "by": string(by)}, nil
	})
}

// mutate applies one guarded mutation under the lock, assigns the next seq,
// and fans the resulting event out to both parties' trip topics.
func (c *Coordinator) mutate(ctx context.Context, tripID types.ID, fn func(*Trip) (map[string]any, error)) (Record, error) {
	c.mu.Lock()
	t, ok := c.trips[tripID]
	if !ok {
		c.mu.Unlock()
		return Record{}, ErrNotFound
	}
	msg, err := fn(t)
	if err != nil {
		c.mu.Unlock()
		return Record{}, err
	}
	t.Seq++
	msg["trip_id"] = t.ID
	msg["seq"] = t.Seq
	rec := record(t)
	passengerID, driverID := t.PassengerID, t.DriverID
	c.mu.Unlock()

	c.publish(ctx, push.TripTopic(passengerID), msg)
	if driverID != "" {
		c.publish(ctx, push.TripTopic(driverID), msg)
	}
	return rec, nil
}

func (c *Coordinator) publish(ctx context.Context, topic string, msg map[string]any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal push message", zap.Error(err))
		return
	}
	if err := c.pub.Publish(ctx, topic, payload); err != nil {
		c.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func pointJSON(p types.Point) map[string]float64 {
	return map[string]float64{"lat": p.Lat, "lng": p.Lng}
}
