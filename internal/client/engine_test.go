// README: End-to-end engine tests: passenger and driver pipelines coupled
// through an in-memory broker and the sim coordinator.
package client

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"tripsync/internal/api"
	"tripsync/internal/modules/push"
	"tripsync/internal/modules/trip"
	"tripsync/internal/simserver"
	"tripsync/internal/types"
)

// memBroker routes published messages straight to subscribed handlers,
// synchronously, standing in for redis pub/sub.
type memBroker struct {
	mu   sync.Mutex
	subs map[string][]push.Handler
	down bool
}

func newMemBroker() *memBroker {
	return &memBroker{subs: make(map[string][]push.Handler)}
}

func (b *memBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	down := b.down
	handlers := append([]push.Handler(nil), b.subs[topic]...)
	b.mu.Unlock()
	if down {
		return nil // messages published while disconnected are simply lost
	}
	for _, h := range handlers {
		h(push.Message{Topic: topic, Payload: payload})
	}
	return nil
}

func (b *memBroker) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// memTransport implements Transport against the broker.
type memTransport struct {
	broker  *memBroker
	handler push.Handler
}

func (t *memTransport) OnMessage(h push.Handler) { t.handler = h }

func (t *memTransport) Connect(_ context.Context, creds push.Credentials) error {
	t.broker.mu.Lock()
	defer t.broker.mu.Unlock()
	for _, topic := range push.TopicsFor(creds.Role, creds.UserID) {
		t.broker.subs[topic] = append(t.broker.subs[topic], func(m push.Message) { t.handler(m) })
	}
	return nil
}

func (t *memTransport) Disconnect() {}

// coordAPI adapts the sim coordinator to the engine's REST contract.
type coordAPI struct {
	coord *simserver.Coordinator
}

func conv(r simserver.Record) api.TripRecord {
	return api.TripRecord{
		TripID:      r.TripID,
		Status:      r.Status,
		Seq:         r.Seq,
		PassengerID: r.PassengerID,
		DriverID:    r.DriverID,
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	return &api.ActionFailedError{Status: http.StatusConflict, Reason: err.Error()}
}

func (a coordAPI) RequestTrip(ctx context.Context, p api.RequestTripParams) (api.TripRecord, error) {
	rec, err := a.coord.Request(ctx, p.PassengerID, p.Pickup, p.Dropoff)
	return conv(rec), mapErr(err)
}

func (a coordAPI) GetTrip(ctx context.Context, tripID types.ID) (api.TripRecord, error) {
	rec, err := a.coord.Get(ctx, tripID)
	return conv(rec), mapErr(err)
}

func (a coordAPI) AcceptTrip(ctx context.Context, tripID, driverID types.ID) (api.TripRecord, error) {
	rec, err := a.coord.Accept(ctx, tripID, driverID)
	return conv(rec), mapErr(err)
}

func (a coordAPI) RejectTrip(ctx context.Context, tripID, driverID types.ID) error {
	return mapErr(a.coord.Reject(ctx, tripID, driverID))
}

func (a coordAPI) CancelTrip(ctx context.Context, tripID types.ID, by types.Role, reason string) (api.TripRecord, error) {
	rec, err := a.coord.Cancel(ctx, tripID, by, reason)
	return conv(rec), mapErr(err)
}

func (a coordAPI) NotifyArrival(ctx context.Context, tripID types.ID) (api.TripRecord, error) {
	rec, err := a.coord.Arrive(ctx, tripID)
	return conv(rec), mapErr(err)
}

func (a coordAPI) NotifyDropoff(ctx context.Context, tripID types.ID) (api.TripRecord, error) {
	rec, err := a.coord.Dropoff(ctx, tripID)
	return conv(rec), mapErr(err)
}

func (a coordAPI) StartTrip(ctx context.Context, tripID types.ID, by types.Role) (api.TripRecord, error) {
	rec, err := a.coord.Start(ctx, tripID, by)
	return conv(rec), mapErr(err)
}

func (a coordAPI) CompleteTrip(ctx context.Context, tripID types.ID, by types.Role) (api.TripRecord, error) {
	rec, err := a.coord.Complete(ctx, tripID, by)
	return conv(rec), mapErr(err)
}

type world struct {
	broker    *memBroker
	coord     *simserver.Coordinator
	passenger *Engine
	driver    *Engine
}

func newWorld(t *testing.T) *world {
	t.Helper()
	broker := newMemBroker()
	coord := simserver.NewCoordinator(broker, nil)
	a := coordAPI{coord: coord}

	passenger := NewEngine(Config{Role: types.RolePassenger, UserID: "p1"}, a, &memTransport{broker: broker}, nil)
	driver := NewEngine(Config{Role: types.RoleDriver, UserID: "d1"}, a, &memTransport{broker: broker}, nil)

	ctx := context.Background()
	if err := passenger.Start(ctx); err != nil {
		t.Fatalf("start passenger: %v", err)
	}
	if err := driver.Start(ctx); err != nil {
		t.Fatalf("start driver: %v", err)
	}
	return &world{broker: broker, coord: coord, passenger: passenger, driver: driver}
}

var (
	origin      = types.Point{Lat: 25.033, Lng: 121.565}
	destination = types.Point{Lat: 25.0478, Lng: 121.5318}
)

func phase(t *testing.T, e *Engine) trip.Phase {
	t.Helper()
	s, ok := e.Session()
	if !ok {
		t.Fatal("no session")
	}
	return s.Phase
}

func TestBothSidesConvergeThroughFullTrip(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if err := w.passenger.Submit(ctx, origin, destination); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := phase(t, w.passenger); got != trip.PhaseSearching {
		t.Fatalf("passenger phase = %s", got)
	}
	// broadcast offer reached the driver synchronously
	if got := phase(t, w.driver); got != trip.PhaseSearching {
		t.Fatalf("driver phase = %s", got)
	}

	if err := w.driver.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if phase(t, w.passenger) != trip.PhasePickup || phase(t, w.driver) != trip.PhasePickup {
		t.Fatalf("after accept: passenger=%s driver=%s", phase(t, w.passenger), phase(t, w.driver))
	}
	ps, _ := w.passenger.Session()
	if ps.CounterpartID != "d1" {
		t.Fatalf("passenger counterpart = %s", ps.CounterpartID)
	}

	if err := w.driver.NotifyArrival(ctx); err != nil {
		t.Fatalf("arrival: %v", err)
	}
	if phase(t, w.passenger) != trip.PhaseArrived || phase(t, w.driver) != trip.PhaseArrived {
		t.Fatalf("after arrival: passenger=%s driver=%s", phase(t, w.passenger), phase(t, w.driver))
	}

	// start confirmations in either order: one side alone never advances
	if err := w.passenger.ConfirmStart(ctx); err != nil {
		t.Fatalf("passenger start: %v", err)
	}
	if phase(t, w.passenger) != trip.PhaseArrived {
		t.Fatal("passenger advanced on own confirmation alone")
	}
	if err := w.driver.ConfirmStart(ctx); err != nil {
		t.Fatalf("driver start: %v", err)
	}
	if phase(t, w.passenger) != trip.PhaseOngoing || phase(t, w.driver) != trip.PhaseOngoing {
		t.Fatalf("after starts: passenger=%s driver=%s", phase(t, w.passenger), phase(t, w.driver))
	}

	if err := w.driver.NotifyDropoff(ctx); err != nil {
		t.Fatalf("dropoff: %v", err)
	}
	if err := w.driver.ConfirmComplete(ctx); err != nil {
		t.Fatalf("driver complete: %v", err)
	}
	if err := w.passenger.ConfirmComplete(ctx); err != nil {
		t.Fatalf("passenger complete: %v", err)
	}
	if phase(t, w.passenger) != trip.PhaseFinished || phase(t, w.driver) != trip.PhaseFinished {
		t.Fatalf("final: passenger=%s driver=%s", phase(t, w.passenger), phase(t, w.driver))
	}

	if err := w.passenger.Dismiss(); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, ok := w.passenger.Session(); ok {
		t.Fatal("passenger session survived dismiss")
	}
}

func TestCancelBeforeAcceptReturnsDriverToIdle(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if err := w.passenger.Submit(ctx, origin, destination); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// passenger cancels while the driver is still looking at the offer
	if err := w.passenger.Cancel(ctx, "not needed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := phase(t, w.passenger); got != trip.PhaseCancelled {
		t.Fatalf("passenger phase = %s", got)
	}

	// driver's accept bounces off the terminal server record
	if err := w.driver.Accept(ctx); err == nil {
		t.Fatal("accept succeeded against a cancelled trip")
	}
	if _, ok := w.driver.Session(); ok {
		t.Fatal("driver session not cleared after failed accept")
	}
}

func TestCancelAfterAcceptOverridesPickup(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if err := w.passenger.Submit(ctx, origin, destination); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := w.driver.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := w.passenger.Cancel(ctx, "found another ride"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// the cancel push must override the driver's pickup phase
	if got := phase(t, w.driver); got != trip.PhaseCancelled {
		t.Fatalf("driver phase = %s, want cancelled", got)
	}
	ds, _ := w.driver.Session()
	if ds.CancelReason != "found another ride" {
		t.Fatalf("driver cancel reason = %q", ds.CancelReason)
	}
}

func TestFailedCancelLeavesSessionUntouched(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if err := w.passenger.Submit(ctx, origin, destination); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := w.driver.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	before, _ := w.passenger.Session()

	// second cancel races: first one wins, second bounces; session stays
	if err := w.passenger.Cancel(ctx, "first"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := w.passenger.Cancel(ctx, "second"); err == nil {
		t.Fatal("cancel against terminal trip succeeded")
	}
	after, _ := w.passenger.Session()
	if after.CancelReason != "first" {
		t.Fatalf("second cancel mutated session: %+v (before %+v)", after, before)
	}
}

func TestMissedPushRecoveredByRefresh(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if err := w.passenger.Submit(ctx, origin, destination); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// broker down: the matched push is lost, passenger stays searching
	w.broker.setDown(true)
	if err := w.driver.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := phase(t, w.passenger); got != trip.PhaseSearching {
		t.Fatalf("passenger phase = %s, want searching while broker down", got)
	}
	w.broker.setDown(false)

	// manual refresh polls the record and catches up
	if err := w.passenger.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := phase(t, w.passenger); got != trip.PhasePickup {
		t.Fatalf("passenger phase after refresh = %s", got)
	}
}

func TestInvalidSubmitNeverReachesServer(t *testing.T) {
	w := newWorld(t)
	err := w.passenger.Submit(context.Background(), types.Point{}, destination)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*trip.InvalidFormError); !ok {
		t.Fatalf("expected InvalidFormError, got %T", err)
	}
	if _, ok := w.passenger.Session(); ok {
		t.Fatal("session opened despite validation failure")
	}
}

func TestRoleGates(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.driver.Submit(ctx, origin, destination); err != ErrWrongRole {
		t.Fatalf("driver submit: %v", err)
	}
	if err := w.passenger.Accept(ctx); err != ErrWrongRole {
		t.Fatalf("passenger accept: %v", err)
	}
	if err := w.passenger.NotifyArrival(ctx); err != ErrWrongRole {
		t.Fatalf("passenger arrival: %v", err)
	}
}

func TestDriverRejectClearsProvisionalSession(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	if err := w.passenger.Submit(ctx, origin, destination); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := w.driver.Reject(ctx); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, ok := w.driver.Session(); ok {
		t.Fatal("driver session survived reject")
	}
	// trip keeps searching for another driver
	if got := phase(t, w.passenger); got != trip.PhaseSearching {
		t.Fatalf("passenger phase = %s", got)
	}
}
