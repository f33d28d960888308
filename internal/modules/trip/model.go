// README: Trip session aggregate, phase definitions, and event envelope.
package trip

import (
	"time"

	"tripsync/internal/types"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRequested Phase = "requested"
	PhaseSearching Phase = "searching"
	PhasePickup    Phase = "pickup"
	PhaseArrived   Phase = "arrived"
	PhaseOngoing   Phase = "ongoing"
	PhaseDropoff   Phase = "dropoff"
	PhaseFinished  Phase = "finished"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether no further event may mutate a session in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseCancelled
}

// AllowedTransitions represents the trip lifecycle (diagram) as code.
// Cancellation is reachable from every phase that holds an active trip.
var AllowedTransitions = map[Phase][]Phase{
	PhaseIdle:      {PhaseRequested, PhaseSearching},
	PhaseRequested: {PhaseSearching, PhaseCancelled},
	PhaseSearching: {PhasePickup, PhaseCancelled},
	PhasePickup:    {PhaseArrived, PhaseOngoing, PhaseCancelled},
	PhaseArrived:   {PhaseOngoing, PhaseCancelled},
	PhaseOngoing:   {PhaseDropoff, PhaseCancelled},
	PhaseDropoff:   {PhaseFinished, PhaseCancelled},
}

func CanTransition(from, to Phase) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, p := range next {
		if p == to {
			return true
		}
	}
	return false
}

// Flags are the per-party sub-step confirmations. Passenger and driver confirm
// trip start and trip completion independently; the phase only advances once
// both sides have confirmed.
type Flags struct {
	PassengerStarted   bool
	DriverStarted      bool
	PassengerCompleted bool
	DriverCompleted    bool
}

func (f Flags) BothStarted() bool   { return f.PassengerStarted && f.DriverStarted }
func (f Flags) BothCompleted() bool { return f.PassengerCompleted && f.DriverCompleted }

// Session is the client-side projection of one ride, scoped to one role.
// It is mutated exclusively through the Reconciler.
type Session struct {
	TripID        types.ID
	Role          types.Role
	Phase         Phase
	CounterpartID types.ID
	Flags         Flags
	// LastSeq is the highest server ordering token reflected in this session;
	// events at or below it are duplicates or arrived out of order.
	LastSeq int64

	Pickup       types.Point
	Dropoff      types.Point
	CancelReason string
	RequestedAt  time.Time

	// CounterpartPos is display data for the map; it never affects phase.
	CounterpartPos *types.Point
}

func (s *Session) Terminal() bool {
	return s != nil && s.Phase.Terminal()
}

// Source tells the Reconciler which of the three signal paths produced an event.
type Source string

const (
	SourceLocal Source = "local_action"
	SourceREST  Source = "rest_response"
	SourcePush  Source = "push"
)

// Kind is the closed set of signals that can affect a session. The push
// normalizer guarantees inbound broker messages map onto this set or are
// dropped before they reach the Reconciler.
type Kind string

const (
	KindMatched        Kind = "matched"
	KindDriverArrived  Kind = "driver_arrived"
	KindDropoffArrived Kind = "dropoff_arrived"
	KindStatusChanged  Kind = "status_changed"
	KindStartAck       Kind = "start_ack"
	KindCompleteAck    Kind = "complete_ack"
	KindNewTripRequest Kind = "new_trip_request"
	// KindLocation carries counterpart coordinates for map display only.
	KindLocation Kind = "location"
)

// Event is the canonical envelope for any signal that can affect a session.
// Transient; never persisted.
type Event struct {
	TripID types.ID
	Source Source
	Kind   Kind
	Seq    int64

	// By is the confirming role for start/complete acks.
	By types.Role
	// Status accompanies KindStatusChanged.
	Status Phase
	// CounterpartID accompanies KindMatched and KindNewTripRequest.
	CounterpartID types.ID
	Pickup        types.Point
	Dropoff       types.Point
	Reason        string
	Position      *types.Point
}
