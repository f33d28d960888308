// README: Per-role coordination engine; wires the push pipeline into the
// reconciler and exposes the local action triggers views call.
package client

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"tripsync/internal/api"
	"tripsync/internal/modules/push"
	"tripsync/internal/modules/trip"
	"tripsync/internal/types"
)

var (
	ErrWrongRole = errors.New("action not available for this role")
	ErrNoTrip    = errors.New("no trip bound to session")
)

// TripAPI is the REST surface the engine consumes. *api.Client satisfies it.
type TripAPI interface {
	RequestTrip(ctx context.Context, p api.RequestTripParams) (api.TripRecord, error)
	GetTrip(ctx context.Context, tripID types.ID) (api.TripRecord, error)
	AcceptTrip(ctx context.Context, tripID, driverID types.ID) (api.TripRecord, error)
	RejectTrip(ctx context.Context, tripID, driverID types.ID) error
	CancelTrip(ctx context.Context, tripID types.ID, by types.Role, reason string) (api.TripRecord, error)
	NotifyArrival(ctx context.Context, tripID types.ID) (api.TripRecord, error)
	NotifyDropoff(ctx context.Context, tripID types.ID) (api.TripRecord, error)
	StartTrip(ctx context.Context, tripID types.ID, by types.Role) (api.TripRecord, error)
	CompleteTrip(ctx context.Context, tripID types.ID, by types.Role) (api.TripRecord, error)
}

// Transport is the push channel contract. *push.Channel satisfies it.
type Transport interface {
	OnMessage(h push.Handler)
	Connect(ctx context.Context, creds push.Credentials) error
	Disconnect()
}

type Config struct {
	Role   types.Role
	UserID types.ID
	Token  string
}

// Engine runs one side of a trip: a passenger app or a driver app. Two
// independent engines never talk to each other; they agree only through the
// server's trip record and the events it pushes.
type Engine struct {
	cfg     Config
	api     TripAPI
	channel Transport
	norm    *push.Normalizer
	rec     *trip.Reconciler
	store   *trip.Store
	log     *zap.Logger
}

func NewEngine(cfg Config, tripAPI TripAPI, channel Transport, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("role", string(cfg.Role)), zap.String("user", string(cfg.UserID)))
	store := trip.NewStore()
	return &Engine{
		cfg:     cfg,
		api:     tripAPI,
		channel: channel,
		norm:    push.NewNormalizer(cfg.Role, log),
		rec:     trip.NewReconciler(cfg.Role, store, log),
		store:   store,
		log:     log,
	}
}

// Start connects the push channel and begins feeding normalized events into
// the reconciler. Local REST actions work even while the channel is down;
// only push-dependent transitions freeze until it recovers.
func (e *Engine) Start(ctx context.Context) error {
	e.channel.OnMessage(func(m push.Message) {
		ev, ok := e.norm.Normalize(m.Topic, m.Payload)
		if !ok {
			return
		}
		e.rec.Apply(ev)
	})
	return e.channel.Connect(ctx, push.Credentials{
		UserID: e.cfg.UserID,
		Token:  e.cfg.Token,
		Role:   e.cfg.Role,
	})
}

func (e *Engine) Stop() {
	e.channel.Disconnect()
}

// Store exposes the session store for the view layer. Views read; they never
// drive transitions directly.
func (e *Engine) Store() *trip.Store {
	return e.store
}

func (e *Engine) Session() (trip.Session, bool) {
	return e.rec.Session()
}

// Submit opens a trip request: optimistic requested phase, then the REST
// call; the server ack moves the session to searching, a failure reverts it.
func (e *Engine) Submit(ctx context.Context, origin, destination types.Point) error {
	if e.cfg.Role != types.RolePassenger {
		return ErrWrongRole
	}
	if _, err := e.rec.SubmitRequest(origin, destination); err != nil {
		return err
	}
	rec, err := e.api.RequestTrip(ctx, api.RequestTripParams{
		PassengerID: e.cfg.UserID,
		Pickup:      origin,
		Dropoff:     destination,
	})
	if err != nil {
		e.rec.AbortRequest()
		return err
	}
	e.rec.BindTrip(rec.TripID)
	e.applyRecord(rec, trip.Event{Kind: trip.KindStatusChanged, Status: trip.Phase(rec.Status)})
	return nil
}

// Accept confirms a broadcast trip offer. A failed accept returns the driver
// to idle.
func (e *Engine) Accept(ctx context.Context) error {
	if e.cfg.Role != types.RoleDriver {
		return ErrWrongRole
	}
	s, ok := e.rec.Session()
	if !ok || s.TripID == "" {
		return ErrNoTrip
	}
	rec, err := e.api.AcceptTrip(ctx, s.TripID, e.cfg.UserID)
	if err != nil {
		e.rec.AbortRequest()
		return err
	}
	e.applyRecord(rec, trip.Event{Kind: trip.KindMatched, CounterpartID: rec.PassengerID})
	return nil
}

// Reject declines an offer and drops the provisional session.
func (e *Engine) Reject(ctx context.Context) error {
	if e.cfg.Role != types.RoleDriver {
		return ErrWrongRole
	}
	s, ok := e.rec.Session()
	if !ok {
		return ErrNoTrip
	}
	if err := e.api.RejectTrip(ctx, s.TripID, e.cfg.UserID); err != nil {
		return err
	}
	e.rec.AbortRequest()
	return nil
}

// Cancel is not optimistic: a failed cancel leaves the session exactly as it
// was. A success is terminal and idempotent; if a push cancellation landed
// first, the REST outcome is swallowed by the reconciler.
func (e *Engine) Cancel(ctx context.Context, reason string) error {
	s, ok := e.rec.Session()
	if !ok || s.TripID == "" {
		return ErrNoTrip
	}
	rec, err := e.api.CancelTrip(ctx, s.TripID, e.cfg.Role, reason)
	if err != nil {
		return err
	}
	e.applyRecord(rec, trip.Event{Kind: trip.KindStatusChanged, Status: trip.PhaseCancelled, Reason: reason})
	return nil
}

// NotifyArrival reports pickup arrival; driver only.
func (e *Engine) NotifyArrival(ctx context.Context) error {
	if e.cfg.Role != types.RoleDriver {
		return ErrWrongRole
	}
	return e.notify(ctx, e.api.NotifyArrival, trip.KindDriverArrived)
}

// NotifyDropoff reports arrival at the destination; driver only.
func (e *Engine) NotifyDropoff(ctx context.Context) error {
	if e.cfg.Role != types.RoleDriver {
		return ErrWrongRole
	}
	return e.notify(ctx, e.api.NotifyDropoff, trip.KindDropoffArrived)
}

func (e *Engine) notify(ctx context.Context, call func(context.Context, types.ID) (api.TripRecord, error), kind trip.Kind) error {
	s, ok := e.rec.Session()
	if !ok || s.TripID == "" {
		return ErrNoTrip
	}
	rec, err := call(ctx, s.TripID)
	if err != nil {
		return err
	}
	e.applyRecord(rec, trip.Event{Kind: kind})
	return nil
}

// ConfirmStart sets this side's start flag. The phase advances to ongoing on
// whichever side confirms second.
func (e *Engine) ConfirmStart(ctx context.Context) error {
	s, ok := e.rec.Session()
	if !ok || s.TripID == "" {
		return ErrNoTrip
	}
	rec, err := e.api.StartTrip(ctx, s.TripID, e.cfg.Role)
	if err != nil {
		return err
	}
	e.applyRecord(rec, trip.Event{Kind: trip.KindStartAck, By: e.cfg.Role})
	return nil
}

// ConfirmComplete sets this side's completion flag.
func (e *Engine) ConfirmComplete(ctx context.Context) error {
	s, ok := e.rec.Session()
	if !ok || s.TripID == "" {
		return ErrNoTrip
	}
	rec, err := e.api.CompleteTrip(ctx, s.TripID, e.cfg.Role)
	if err != nil {
		return err
	}
	e.applyRecord(rec, trip.Event{Kind: trip.KindCompleteAck, By: e.cfg.Role})
	return nil
}

// Refresh polls the trip record and reconciles the session against it. This
// is the manual catch-up path after a channel drop; a gap the single
// status-change transition cannot bridge is logged and stays (the broker
// keeps no replay buffer).
func (e *Engine) Refresh(ctx context.Context) error {
	s, ok := e.rec.Session()
	if !ok || s.TripID == "" {
		return ErrNoTrip
	}
	rec, err := e.api.GetTrip(ctx, s.TripID)
	if err != nil {
		return err
	}
	if trip.Phase(rec.Status) == s.Phase {
		return nil
	}
	if !e.applyRecord(rec, trip.Event{Kind: trip.KindStatusChanged, Status: trip.Phase(rec.Status)}) {
		e.log.Warn("refresh could not bridge phase gap",
			zap.String("local", string(s.Phase)), zap.String("server", rec.Status))
	}
	return nil
}

// Dismiss clears a finished or cancelled session.
func (e *Engine) Dismiss() error {
	return e.rec.Dismiss()
}

// applyRecord feeds a REST outcome into the reconciler as an event in the
// server's seq domain.
func (e *Engine) applyRecord(rec api.TripRecord, ev trip.Event) bool {
	ev.TripID = rec.TripID
	ev.Source = trip.SourceREST
	ev.Seq = rec.Seq
	return e.rec.Apply(ev)
}
