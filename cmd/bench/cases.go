// README: Benchmark test cases: trip lifecycle over HTTP, push delivery over Redis, and a throughput check.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tripsync/internal/api"
	"tripsync/internal/modules/push"
	"tripsync/internal/modules/trip"
	"tripsync/internal/types"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	api   *api.Client
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		api:   api.NewClient(cfg.BaseURL, cfg.Token),
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: server health",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/health", nil)
				resp, err := r.httpc.Do(req)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status %d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Trip: full lifecycle",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				if err := r.runLifecycle(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},
		{
			Name: "Trip: illegal transition rejected",
			Run: func(ctx context.Context, r *Runner) Result {
				rec, err := r.api.RequestTrip(ctx, api.RequestTripParams{
					PassengerID: benchID("p"),
					Pickup:      types.Point{Lat: 25.03, Lng: 121.56},
					Dropoff:     types.Point{Lat: 25.04, Lng: 121.51},
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				// starting before a driver accepted must be refused
				_, err = r.api.StartTrip(ctx, rec.TripID, types.RolePassenger)
				var af *api.ActionFailedError
				if !errors.As(err, &af) || af.Status != http.StatusConflict {
					return Result{Status: "FAIL", Note: fmt.Sprintf("want 409 conflict, got %v", err)}
				}
				_, _ = r.api.CancelTrip(ctx, rec.TripID, types.RolePassenger, "bench cleanup")
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Trip: cancel wins over accept",
			Run: func(ctx context.Context, r *Runner) Result {
				rec, err := r.api.RequestTrip(ctx, api.RequestTripParams{
					PassengerID: benchID("p"),
					Pickup:      types.Point{Lat: 25.03, Lng: 121.56},
					Dropoff:     types.Point{Lat: 25.04, Lng: 121.51},
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if _, err := r.api.CancelTrip(ctx, rec.TripID, types.RolePassenger, "changed my mind"); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_, err = r.api.AcceptTrip(ctx, rec.TripID, benchID("d"))
				var af *api.ActionFailedError
				if !errors.As(err, &af) || af.Status != http.StatusConflict {
					return Result{Status: "FAIL", Note: fmt.Sprintf("want 409 conflict, got %v", err)}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Push: new trip broadcast delivered",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				sub := r.redis.Subscribe(ctx, push.TopicNewTrips)
				defer func() { _ = sub.Close() }()
				if _, err := sub.Receive(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				start := time.Now()
				rec, err := r.api.RequestTrip(ctx, api.RequestTripParams{
					PassengerID: benchID("p"),
					Pickup:      types.Point{Lat: 25.03, Lng: 121.56},
					Dropoff:     types.Point{Lat: 25.04, Lng: 121.51},
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				defer func() { _, _ = r.api.CancelTrip(ctx, rec.TripID, types.RolePassenger, "bench cleanup") }()
				waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				ch := sub.Channel()
				for {
					select {
					case <-waitCtx.Done():
						return Result{Status: "FAIL", Note: "no broadcast within 3s"}
					case msg := <-ch:
						if msg != nil && containsID(msg.Payload, rec.TripID) {
							return Result{Status: "PASS", Latency: time.Since(start)}
						}
					}
				}
			},
		},
		{
			Name: "Perf: lifecycle throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				perfCtx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
				defer cancel()
				var done, failed atomic.Int64
				var wg sync.WaitGroup
				start := time.Now()
				for i := 0; i < r.cfg.Concurrency; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for perfCtx.Err() == nil {
							if err := r.runLifecycle(perfCtx); err != nil {
								if perfCtx.Err() == nil {
									failed.Add(1)
								}
								return
							}
							done.Add(1)
						}
					}()
				}
				wg.Wait()
				elapsed := time.Since(start)
				if failed.Load() > 0 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("%d workers errored", failed.Load())}
				}
				rate := float64(done.Load()) / elapsed.Seconds()
				return Result{Status: "PASS", Latency: elapsed, Note: fmt.Sprintf("%d trips, %.1f trips/s", done.Load(), rate)}
			},
		},
	}
}

// runLifecycle drives one trip from request to finished entirely over REST.
func (r *Runner) runLifecycle(ctx context.Context) error {
	passenger, driver := benchID("p"), benchID("d")
	rec, err := r.api.RequestTrip(ctx, api.RequestTripParams{
		PassengerID: passenger,
		Pickup:      types.Point{Lat: 25.03, Lng: 121.56},
		Dropoff:     types.Point{Lat: 25.04, Lng: 121.51},
	})
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	if _, err := r.api.AcceptTrip(ctx, rec.TripID, driver); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	if _, err := r.api.NotifyArrival(ctx, rec.TripID); err != nil {
		return fmt.Errorf("arrival: %w", err)
	}
	if _, err := r.api.StartTrip(ctx, rec.TripID, types.RoleDriver); err != nil {
		return fmt.Errorf("start driver: %w", err)
	}
	if _, err := r.api.StartTrip(ctx, rec.TripID, types.RolePassenger); err != nil {
		return fmt.Errorf("start passenger: %w", err)
	}
	if _, err := r.api.NotifyDropoff(ctx, rec.TripID); err != nil {
		return fmt.Errorf("dropoff: %w", err)
	}
	if _, err := r.api.CompleteTrip(ctx, rec.TripID, types.RoleDriver); err != nil {
		return fmt.Errorf("complete driver: %w", err)
	}
	last, err := r.api.CompleteTrip(ctx, rec.TripID, types.RolePassenger)
	if err != nil {
		return fmt.Errorf("complete passenger: %w", err)
	}
	if trip.Phase(last.Status) != trip.PhaseFinished {
		return fmt.Errorf("final status %q, want finished", last.Status)
	}
	return nil
}

func benchID(prefix string) types.ID {
	return types.ID(fmt.Sprintf("bench-%s-%s", prefix, uuid.NewString()[:8]))
}

func containsID(payload string, id types.ID) bool {
	return id != "" && strings.Contains(payload, string(id))
}
