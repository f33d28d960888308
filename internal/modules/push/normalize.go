// README: Normalizer maps raw broker payloads onto the closed trip event set.
package push

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"tripsync/internal/modules/trip"
	"tripsync/internal/types"
)

// wireMessage is the broker payload shape. Every message carries a type
// discriminator; the remaining fields are populated per type.
type wireMessage struct {
	Type   string `json:"type"`
	TripID string `json:"trip_id"`
	Seq    int64  `json:"seq"`
	By     string `json:"by,omitempty"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`

	PassengerID string     `json:"passenger_id,omitempty"`
	DriverID    string     `json:"driver_id,omitempty"`
	Pickup      *wirePoint `json:"pickup,omitempty"`
	Dropoff     *wirePoint `json:"dropoff,omitempty"`
	Location    *wirePoint `json:"location,omitempty"`
}

type wirePoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p *wirePoint) point() types.Point {
	if p == nil {
		return types.Point{}
	}
	return types.Point{Lat: p.Lat, Lng: p.Lng}
}

// Normalizer converts inbound broker messages into canonical trip events. The
// receiving role determines which counterpart ID a matched/offer message
// carries. A malformed or forward-compatible message must never crash an
// active session, so every failure path is a warn-and-drop.
type Normalizer struct {
	role types.Role
	log  *zap.Logger
}

func NewNormalizer(role types.Role, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{role: role, log: log}
}

// Normalize returns the canonical event for one broker message. The second
// return is false when the message is unknown, malformed, or arrived on a
// topic it does not belong to.
func (n *Normalizer) Normalize(topic string, payload []byte) (trip.Event, bool) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		n.log.Warn("push message dropped: malformed payload",
			zap.String("topic", topic), zap.Error(err))
		return trip.Event{}, false
	}
	if msg.TripID == "" {
		n.log.Warn("push message dropped: no trip id",
			zap.String("topic", topic), zap.String("type", msg.Type))
		return trip.Event{}, false
	}

	ev := trip.Event{
		TripID: types.ID(msg.TripID),
		Source: trip.SourcePush,
		Seq:    msg.Seq,
	}

	switch msg.Type {
	case "matched":
		ev.Kind = trip.KindMatched
		ev.CounterpartID = n.counterpart(msg)
	case "driver_arrived":
		ev.Kind = trip.KindDriverArrived
	case "dropoff_arrived":
		ev.Kind = trip.KindDropoffArrived
	case "status_changed":
		ev.Kind = trip.KindStatusChanged
		ev.Status = trip.Phase(msg.Status)
		ev.Reason = msg.Reason
	case "start_ack":
		ev.Kind = trip.KindStartAck
		ev.By = types.Role(msg.By)
	case "complete_ack":
		ev.Kind = trip.KindCompleteAck
		ev.By = types.Role(msg.By)
	case "new_trip_request":
		// role-gated: offers only exist on the broadcast topic
		if topic != TopicNewTrips {
			n.log.Warn("trip offer dropped: wrong topic", zap.String("topic", topic))
			return trip.Event{}, false
		}
		ev.Kind = trip.KindNewTripRequest
		ev.CounterpartID = types.ID(msg.PassengerID)
		ev.Pickup = msg.Pickup.point()
		ev.Dropoff = msg.Dropoff.point()
	case "driver_location_update":
		ev.Kind = trip.KindLocation
		p := msg.Location.point()
		ev.Position = &p
	default:
		n.log.Warn("push message dropped: unknown type",
			zap.String("topic", topic), zap.String("type", msg.Type))
		return trip.Event{}, false
	}

	if ev.By != "" && ev.By != types.RolePassenger && ev.By != types.RoleDriver {
		n.log.Warn("push message dropped: unknown actor",
			zap.String("type", msg.Type), zap.String("by", msg.By))
		return trip.Event{}, false
	}
	if strings.HasPrefix(topic, "push:trip:") || topic == TopicNewTrips || strings.HasPrefix(topic, "push:notify:") {
		return ev, true
	}
	n.log.Warn("push message dropped: unrecognized topic", zap.String("topic", topic))
	return trip.Event{}, false
}

// counterpart picks the other party's ID out of a matched message.
func (n *Normalizer) counterpart(msg wireMessage) types.ID {
	if n.role == types.RolePassenger {
		return types.ID(msg.DriverID)
	}
	return types.ID(msg.PassengerID)
}
