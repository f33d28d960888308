// README: Concurrency tests for the reconciler (run with -race).
package trip

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"tripsync/internal/types"
)

// TestCancelVsAcceptRace is the race the reconciler exists for: the passenger
// cancels the instant the driver's accept resolves. Whichever signal is
// processed first, the session must end cancelled.
func TestCancelVsAcceptRace(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := newDriver(t)
		if !r.Apply(Event{TripID: "t1", Source: SourcePush, Kind: KindNewTripRequest, Seq: 1}) {
			t.Fatal("offer not adopted")
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			// accept REST response resolving
			r.Apply(Event{TripID: "t1", Source: SourceREST, Kind: KindMatched, Seq: 2})
		}()
		go func() {
			defer wg.Done()
			// passenger's cancel arriving over push
			r.Apply(Event{TripID: "t1", Source: SourcePush, Kind: KindStatusChanged, Status: PhaseCancelled, Seq: 3, Reason: "changed my mind"})
		}()
		wg.Wait()

		s, ok := r.Session()
		if !ok {
			t.Fatal("session vanished")
		}
		if s.Phase != PhaseCancelled {
			t.Fatalf("iteration %d: phase = %s, want cancelled", i, s.Phase)
		}
	}
}

// TestConcurrentStartConfirmations fires both start confirmations from
// separate goroutines; exactly one ordering is observed internally and the
// session must land ongoing with both flags set.
func TestConcurrentStartConfirmations(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := newPassenger(t)
		mustSubmit(t, r, "t2")
		r.Apply(Event{TripID: "t2", Source: SourcePush, Kind: KindMatched, Seq: 2})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Apply(Event{TripID: "t2", Source: SourceREST, Kind: KindStartAck, By: types.RolePassenger, Seq: 3})
		}()
		go func() {
			defer wg.Done()
			r.Apply(Event{TripID: "t2", Source: SourcePush, Kind: KindStartAck, By: types.RoleDriver, Seq: 4})
		}()
		wg.Wait()

		s, _ := r.Session()
		if s.Phase != PhaseOngoing || !s.Flags.BothStarted() {
			t.Fatalf("iteration %d: %+v", i, s)
		}
	}
}

// TestInterleavingConvergence shuffles a full trip's event stream across
// goroutines many times. Duplicates are injected on purpose. Every run must
// converge to finished with all four flags set.
func TestInterleavingConvergence(t *testing.T) {
	base := []Event{
		{TripID: "t3", Source: SourcePush, Kind: KindMatched, CounterpartID: "d1", Seq: 2},
		{TripID: "t3", Source: SourcePush, Kind: KindDriverArrived, Seq: 3},
		{TripID: "t3", Source: SourceREST, Kind: KindStartAck, By: types.RolePassenger, Seq: 4},
		{TripID: "t3", Source: SourcePush, Kind: KindStartAck, By: types.RoleDriver, Seq: 5},
		{TripID: "t3", Source: SourcePush, Kind: KindDropoffArrived, Seq: 6},
		{TripID: "t3", Source: SourcePush, Kind: KindCompleteAck, By: types.RoleDriver, Seq: 7},
		{TripID: "t3", Source: SourceREST, Kind: KindCompleteAck, By: types.RolePassenger, Seq: 8},
	}

	for run := 0; run < 50; run++ {
		r := newPassenger(t)
		mustSubmit(t, r, "t3")

		// first pass: in-order delivery with one random duplicate injected
		events := append([]Event{}, base...)
		dup := base[rand.Intn(len(base))]
		events = append(events, dup)
		for _, ev := range events {
			r.Apply(ev)
		}
		// duplicates replayed at the end, fully concurrent
		var wg sync.WaitGroup
		for _, ev := range base {
			ev := ev
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Apply(ev)
			}()
		}
		wg.Wait()

		s, _ := r.Session()
		if s.Phase != PhaseFinished {
			t.Fatalf("run %d: phase = %s, want finished", run, s.Phase)
		}
		want := Flags{PassengerStarted: true, DriverStarted: true, PassengerCompleted: true, DriverCompleted: true}
		if s.Flags != want {
			t.Fatalf("run %d: flags = %+v", run, s.Flags)
		}
		if s.LastSeq != 8 {
			t.Fatalf("run %d: last seq = %d, want 8", run, s.LastSeq)
		}
	}
}

// TestConcurrentOffersOnlyOneWins floods an idle driver with distinct trip
// offers; exactly one session may be adopted.
func TestConcurrentOffersOnlyOneWins(t *testing.T) {
	r := newDriver(t)

	const offers = 8
	var wg sync.WaitGroup
	adopted := make(chan types.ID, offers)
	for i := 0; i < offers; i++ {
		tripID := types.ID(fmt.Sprintf("offer-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Apply(Event{TripID: tripID, Source: SourcePush, Kind: KindNewTripRequest, Seq: 1}) {
				adopted <- tripID
			}
		}()
	}
	wg.Wait()
	close(adopted)

	var won []types.ID
	for id := range adopted {
		won = append(won, id)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly one adopted offer, got %d", len(won))
	}
	s, _ := r.Session()
	if s.TripID != won[0] {
		t.Fatalf("session trip %s, adopted %s", s.TripID, won[0])
	}
}
