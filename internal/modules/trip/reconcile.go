// README: Reconciler arbitrates local actions, REST outcomes, and push events
// into a single authoritative session.
package trip

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tripsync/internal/types"
)

var (
	ErrNoSession      = errors.New("no active session")
	ErrActiveSession  = errors.New("session already active")
	ErrTerminal       = errors.New("session is terminal")
	ErrNotDismissable = errors.New("session not terminal")
)

// InvalidFormError blocks a request before anything is sent to the server.
type InvalidFormError struct {
	Field string
}

func (e *InvalidFormError) Error() string {
	return fmt.Sprintf("invalid request form: missing %s", e.Field)
}

// Reconciler is the single writer of the session store. Every signal that can
// affect the session funnels through Apply (or one of the local-action
// methods), serialized by one mutex: the Go rendition of the original
// single-threaded event loop. Stale, duplicate, and cross-trip events are
// logged and dropped rather than surfaced; both are expected under reconnect.
type Reconciler struct {
	mu    sync.Mutex
	role  types.Role
	cur   *Session
	store *Store
	log   *zap.Logger
}

func NewReconciler(role types.Role, store *Store, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{role: role, store: store, log: log.With(zap.String("role", string(role)))}
}

// SubmitRequest opens an optimistic session in the requested phase. The caller
// is expected to fire the REST request and either Apply the server's ack event
// or AbortRequest on failure.
func (r *Reconciler) SubmitRequest(origin, destination types.Point) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if origin.IsZero() {
		return Session{}, &InvalidFormError{Field: "origin"}
	}
	if destination.IsZero() {
		return Session{}, &InvalidFormError{Field: "destination"}
	}
	if r.cur != nil && !r.cur.Terminal() {
		return Session{}, ErrActiveSession
	}

	s := &Session{
		Role:        r.role,
		Phase:       PhaseRequested,
		Pickup:      origin,
		Dropoff:     destination,
		RequestedAt: time.Now(),
	}
	r.cur = s
	r.publish()
	return *s, nil
}

// BindTrip attaches the server-assigned trip ID to an optimistic request.
// Called once the REST create call returns; push events for the trip cannot be
// matched to the session before this.
func (r *Reconciler) BindTrip(tripID types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil || r.cur.TripID != "" {
		return
	}
	r.cur.TripID = tripID
	r.publish()
}

// AbortRequest reverts an optimistic pre-match session back to idle: a failed
// submit on the passenger side, or a failed/rejected accept on the driver
// side. Sessions at pickup or later are server-confirmed and never reverted.
func (r *Reconciler) AbortRequest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return
	}
	switch r.cur.Phase {
	case PhaseRequested, PhaseSearching:
		r.cur = nil
		r.store.clear()
	default:
		r.log.Warn("abort ignored for confirmed session", zap.String("phase", string(r.cur.Phase)))
	}
}

// Dismiss clears a finished or cancelled session so a new trip can begin.
func (r *Reconciler) Dismiss() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return ErrNoSession
	}
	if !r.cur.Terminal() {
		return ErrNotDismissable
	}
	r.cur = nil
	r.store.clear()
	return nil
}

// Session returns a copy of the current session, if any.
func (r *Reconciler) Session() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return Session{}, false
	}
	return *r.cur, true
}

// Apply merges one event into the session and reports whether it was
// accepted. Rejections are deliberate policy, not errors: duplicate delivery
// and cross-trip leakage are normal after a reconnect, so they are logged at
// debug and discarded.
func (r *Reconciler) Apply(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.log.With(
		zap.String("kind", string(ev.Kind)),
		zap.String("source", string(ev.Source)),
		zap.String("trip_id", string(ev.TripID)),
		zap.Int64("seq", ev.Seq),
	)

	if ev.Kind == KindNewTripRequest {
		return r.adoptTrip(ev, log)
	}

	if r.cur == nil {
		log.Debug("event dropped: no active session")
		return false
	}
	if ev.TripID != r.cur.TripID {
		log.Debug("event dropped: trip mismatch", zap.String("active_trip", string(r.cur.TripID)))
		return false
	}
	if r.cur.Terminal() {
		log.Debug("event dropped: session terminal")
		return false
	}

	// Display-only coordinates bypass ordering; they carry no lifecycle signal.
	if ev.Kind == KindLocation {
		if ev.Position != nil {
			p := *ev.Position
			r.cur.CounterpartPos = &p
			r.publish()
		}
		return true
	}

	if ev.Seq <= r.cur.LastSeq && !r.lateFlagAck(ev) {
		log.Debug("event dropped: stale seq", zap.Int64("last_seq", r.cur.LastSeq))
		return false
	}

	applied := false
	switch ev.Kind {
	case KindMatched:
		applied = r.applyMatched(ev)
	case KindDriverArrived:
		applied = r.applyArrival(ev, PhasePickup, PhaseArrived)
	case KindDropoffArrived:
		applied = r.applyArrival(ev, PhaseOngoing, PhaseDropoff)
	case KindStartAck:
		applied = r.applyStartAck(ev)
	case KindCompleteAck:
		applied = r.applyCompleteAck(ev)
	case KindStatusChanged:
		applied = r.applyStatus(ev)
	default:
		log.Warn("event dropped: unknown kind")
		return false
	}

	if !applied {
		log.Debug("event dropped: no legal transition", zap.String("phase", string(r.cur.Phase)))
		return false
	}
	if ev.Seq > r.cur.LastSeq {
		r.cur.LastSeq = ev.Seq
	}
	r.publish()
	return true
}

// adoptTrip creates a fresh session from a broadcast trip offer. Driver only;
// an active non-terminal session refuses the offer. The new session gets an
// independent seq space seeded by the offer itself.
func (r *Reconciler) adoptTrip(ev Event, log *zap.Logger) bool {
	if r.role != types.RoleDriver {
		log.Debug("trip offer dropped: not a driver")
		return false
	}
	if r.cur != nil && !r.cur.Terminal() {
		log.Debug("trip offer dropped: session active", zap.String("active_trip", string(r.cur.TripID)))
		return false
	}
	r.cur = &Session{
		TripID:        ev.TripID,
		Role:          r.role,
		Phase:         PhaseSearching,
		CounterpartID: ev.CounterpartID,
		Pickup:        ev.Pickup,
		Dropoff:       ev.Dropoff,
		LastSeq:       ev.Seq,
		RequestedAt:   time.Now(),
	}
	r.publish()
	return true
}

func (r *Reconciler) applyMatched(ev Event) bool {
	if !CanTransition(r.cur.Phase, PhasePickup) {
		return false
	}
	r.cur.Phase = PhasePickup
	if ev.CounterpartID != "" {
		r.cur.CounterpartID = ev.CounterpartID
	}
	return true
}

func (r *Reconciler) applyArrival(ev Event, from, to Phase) bool {
	// Arrival is reported by the driver: their own session advances on the
	// REST confirmation, the passenger's on the pushed copy.
	if r.role == types.RoleDriver && ev.Source != SourceREST {
		return false
	}
	if r.role == types.RolePassenger && ev.Source != SourcePush {
		return false
	}
	if r.cur.Phase != from || !CanTransition(from, to) {
		return false
	}
	r.cur.Phase = to
	return true
}

// flagSourceOK enforces the merge rule: the local role's flag is set only by a
// successful REST response, the counterpart's only by a push event.
func (r *Reconciler) flagSourceOK(by types.Role, source Source) bool {
	if by == r.role {
		return source == SourceREST
	}
	return source == SourcePush
}

func (r *Reconciler) applyStartAck(ev Event) bool {
	if !r.flagSourceOK(ev.By, ev.Source) {
		return false
	}
	if r.cur.Phase != PhasePickup && r.cur.Phase != PhaseArrived {
		return false
	}
	if ev.By == types.RoleDriver {
		r.cur.Flags.DriverStarted = true
	} else {
		r.cur.Flags.PassengerStarted = true
	}
	if r.cur.Flags.BothStarted() {
		r.cur.Phase = PhaseOngoing
	}
	return true
}

func (r *Reconciler) applyCompleteAck(ev Event) bool {
	if !r.flagSourceOK(ev.By, ev.Source) {
		return false
	}
	if r.cur.Phase != PhaseDropoff {
		return false
	}
	if ev.By == types.RoleDriver {
		r.cur.Flags.DriverCompleted = true
	} else {
		r.cur.Flags.PassengerCompleted = true
	}
	if r.cur.Flags.BothCompleted() {
		r.cur.Phase = PhaseFinished
	}
	return true
}

func (r *Reconciler) applyStatus(ev Event) bool {
	if ev.Status == PhaseCancelled {
		// Cancellation always wins over pending transitions; in-flight local
		// actions resolve as no-ops against the now-terminal session.
		r.cur.Phase = PhaseCancelled
		r.cur.CancelReason = ev.Reason
		return true
	}
	if !CanTransition(r.cur.Phase, ev.Status) {
		return false
	}
	r.cur.Phase = ev.Status
	return true
}

// lateFlagAck exempts a start/complete confirmation from the strict seq check
// when its flag is still unset. The two acks commute: a REST response that
// lands after the counterpart's pushed ack carries an older seq but must still
// merge, or the session would hang one flag short of advancing.
func (r *Reconciler) lateFlagAck(ev Event) bool {
	switch ev.Kind {
	case KindStartAck:
		if !r.flagSourceOK(ev.By, ev.Source) {
			return false
		}
		if ev.By == types.RoleDriver {
			return !r.cur.Flags.DriverStarted
		}
		return !r.cur.Flags.PassengerStarted
	case KindCompleteAck:
		if !r.flagSourceOK(ev.By, ev.Source) {
			return false
		}
		if ev.By == types.RoleDriver {
			return !r.cur.Flags.DriverCompleted
		}
		return !r.cur.Flags.PassengerCompleted
	}
	return false
}

func (r *Reconciler) publish() {
	if r.store == nil {
		return
	}
	snap := *r.cur
	if r.cur.CounterpartPos != nil {
		p := *r.cur.CounterpartPos
		snap.CounterpartPos = &p
	}
	r.store.put(&snap)
}
