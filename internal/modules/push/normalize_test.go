// README: Normalizer tests; unknown shapes drop, known shapes map exactly.
package push

import (
	"testing"

	"tripsync/internal/modules/trip"
	"tripsync/internal/types"
)

func TestNormalizeKnownTypes(t *testing.T) {
	n := NewNormalizer(types.RolePassenger, nil)
	tripTopic := TripTopic("p1")

	cases := []struct {
		name    string
		topic   string
		payload string
		want    trip.Event
	}{
		{
			name:    "matched",
			topic:   tripTopic,
			payload: `{"type":"matched","trip_id":"t1","seq":3,"driver_id":"d7"}`,
			want:    trip.Event{TripID: "t1", Source: trip.SourcePush, Kind: trip.KindMatched, Seq: 3, CounterpartID: "d7"},
		},
		{
			name:    "driver_arrived",
			topic:   tripTopic,
			payload: `{"type":"driver_arrived","trip_id":"t1","seq":4}`,
			want:    trip.Event{TripID: "t1", Source: trip.SourcePush, Kind: trip.KindDriverArrived, Seq: 4},
		},
		{
			name:    "dropoff_arrived",
			topic:   tripTopic,
			payload: `{"type":"dropoff_arrived","trip_id":"t1","seq":6}`,
			want:    trip.Event{TripID: "t1", Source: trip.SourcePush, Kind: trip.KindDropoffArrived, Seq: 6},
		},
		{
			name:    "cancel",
			topic:   NotifyTopic("p1"),
			payload: `{"type":"status_changed","trip_id":"t1","seq":9,"status":"cancelled","reason":"no show"}`,
			want:    trip.Event{TripID: "t1", Source: trip.SourcePush, Kind: trip.KindStatusChanged, Seq: 9, Status: trip.PhaseCancelled, Reason: "no show"},
		},
		{
			name:    "start_ack",
			topic:   tripTopic,
			payload: `{"type":"start_ack","trip_id":"t1","seq":5,"by":"driver"}`,
			want:    trip.Event{TripID: "t1", Source: trip.SourcePush, Kind: trip.KindStartAck, Seq: 5, By: types.RoleDriver},
		},
		{
			name:    "complete_ack",
			topic:   tripTopic,
			payload: `{"type":"complete_ack","trip_id":"t1","seq":8,"by":"passenger"}`,
			want:    trip.Event{TripID: "t1", Source: trip.SourcePush, Kind: trip.KindCompleteAck, Seq: 8, By: types.RolePassenger},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := n.Normalize(tc.topic, []byte(tc.payload))
			if !ok {
				t.Fatal("message dropped")
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNormalizeTripOffer(t *testing.T) {
	n := NewNormalizer(types.RoleDriver, nil)
	payload := `{"type":"new_trip_request","trip_id":"t2","seq":1,"passenger_id":"p5",
		"pickup":{"lat":25.03,"lng":121.56},"dropoff":{"lat":25.05,"lng":121.53}}`

	ev, ok := n.Normalize(TopicNewTrips, []byte(payload))
	if !ok {
		t.Fatal("offer dropped")
	}
	if ev.Kind != trip.KindNewTripRequest || ev.CounterpartID != "p5" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Pickup.Lat != 25.03 || ev.Dropoff.Lng != 121.53 {
		t.Fatalf("coordinates lost: %+v", ev)
	}

	// an offer on a personal topic is a leak: drop
	if _, ok := n.Normalize(TripTopic("d1"), []byte(payload)); ok {
		t.Fatal("offer accepted off the broadcast topic")
	}
}

func TestNormalizeLocationUpdate(t *testing.T) {
	n := NewNormalizer(types.RolePassenger, nil)
	payload := `{"type":"driver_location_update","trip_id":"t1","location":{"lat":25.04,"lng":121.55}}`

	ev, ok := n.Normalize(TripTopic("p1"), []byte(payload))
	if !ok {
		t.Fatal("location dropped")
	}
	if ev.Kind != trip.KindLocation || ev.Position == nil || ev.Position.Lng != 121.55 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

// TestNormalizeDrops: malformed and forward-compatible messages never error,
// never panic; they just vanish with a warning.
func TestNormalizeDrops(t *testing.T) {
	n := NewNormalizer(types.RolePassenger, nil)
	topic := TripTopic("p1")

	cases := []struct {
		name    string
		topic   string
		payload string
	}{
		{"not_json", topic, `{{{`},
		{"unknown_type", topic, `{"type":"surge_pricing_v2","trip_id":"t1","seq":1}`},
		{"missing_trip_id", topic, `{"type":"matched","seq":1}`},
		{"unknown_actor", topic, `{"type":"start_ack","trip_id":"t1","seq":1,"by":"dispatcher"}`},
		{"empty", topic, ``},
		{"foreign_topic", "some:other:system", `{"type":"matched","trip_id":"t1","seq":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := n.Normalize(tc.topic, []byte(tc.payload)); ok {
				t.Fatal("expected drop")
			}
		})
	}
}
