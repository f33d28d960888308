package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tripsync/internal/api"
	"tripsync/internal/client"
	"tripsync/internal/config"
	"tripsync/internal/infra"
	"tripsync/internal/maps"
	"tripsync/internal/modules/location"
	"tripsync/internal/modules/push"
	"tripsync/internal/modules/trip"
	"tripsync/internal/simserver"
	"tripsync/internal/types"
)

func init() {
	rootCmd.AddCommand(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run an in-process server plus a passenger and a driver through a full trip",
	RunE:  runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := infra.NewLogger(verbose)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
	defer cancel()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	coord := simserver.NewCoordinator(push.NewRedisPublisher(redisClient), log)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: simserver.Router(coord)}
	go func() { _ = server.ListenAndServe() }()
	defer func() { _ = server.Shutdown(context.Background()) }()
	if err := waitHealthy(ctx, cfg.API.Base); err != nil {
		return err
	}

	passenger := newDemoEngine(cfg, types.RolePassenger, "demo-passenger", redisClient, log)
	driver := newDemoEngine(cfg, types.RoleDriver, "demo-driver", redisClient, log)
	if err := passenger.Start(ctx); err != nil {
		return err
	}
	defer passenger.Stop()
	if err := driver.Start(ctx); err != nil {
		return err
	}
	defer driver.Stop()

	go narrate("passenger", passenger)
	go narrate("driver", driver)

	origin := types.Point{Lat: 25.0330, Lng: 121.5654}
	destination := types.Point{Lat: 25.0478, Lng: 121.5170}
	if cfg.Maps.APIKey != "" {
		if eta, err := maps.NewETAService(cfg.Maps.APIKey); err == nil {
			if dur, dist, err := eta.TravelEstimate(ctx, origin, destination); err == nil {
				fmt.Printf("estimated ride: %s (%s)\n", dur, dist)
			}
		}
	}
	if err := passenger.Submit(ctx, origin, destination); err != nil {
		return err
	}
	if err := waitPhase(ctx, driver, trip.PhaseSearching); err != nil {
		return fmt.Errorf("driver never saw the offer: %w", err)
	}
	if err := driver.Accept(ctx); err != nil {
		return err
	}
	if err := waitPhase(ctx, passenger, trip.PhasePickup); err != nil {
		return err
	}
	if s, ok := driver.Session(); ok {
		feed := location.NewFeed(
			&routeProvider{at: origin, to: destination},
			push.NewRedisPublisher(redisClient),
			500*time.Millisecond, log,
		)
		go feed.Run(ctx, s.TripID, s.CounterpartID)
	}
	if err := driver.NotifyArrival(ctx); err != nil {
		return err
	}
	if err := waitPhase(ctx, passenger, trip.PhaseArrived); err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return passenger.ConfirmStart(ctx) })
	g.Go(func() error { return driver.ConfirmStart(ctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	if err := waitPhase(ctx, passenger, trip.PhaseOngoing); err != nil {
		return err
	}
	if err := waitPhase(ctx, driver, trip.PhaseOngoing); err != nil {
		return err
	}

	if err := driver.NotifyDropoff(ctx); err != nil {
		return err
	}
	if err := waitPhase(ctx, passenger, trip.PhaseDropoff); err != nil {
		return err
	}
	g = errgroup.Group{}
	g.Go(func() error { return passenger.ConfirmComplete(ctx) })
	g.Go(func() error { return driver.ConfirmComplete(ctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	if err := waitPhase(ctx, passenger, trip.PhaseFinished); err != nil {
		return err
	}
	if err := waitPhase(ctx, driver, trip.PhaseFinished); err != nil {
		return err
	}

	_ = passenger.Dismiss()
	_ = driver.Dismiss()
	fmt.Println("demo: trip finished on both sides")
	return nil
}

func newDemoEngine(cfg config.Config, role types.Role, userID types.ID, rdb *redis.Client, log *zap.Logger) *client.Engine {
	return client.NewEngine(
		client.Config{Role: role, UserID: userID, Token: cfg.API.Token},
		api.NewClient(cfg.API.Base, cfg.API.Token),
		push.NewChannel(rdb, log, push.WithBackoff(cfg.Channel.Backoff)),
		log,
	)
}

// routeProvider fakes a vehicle creeping toward the destination, one tenth of
// the remaining distance per read.
type routeProvider struct {
	at types.Point
	to types.Point
}

func (p *routeProvider) Position(context.Context) (types.Point, error) {
	p.at.Lat += (p.to.Lat - p.at.Lat) / 10
	p.at.Lng += (p.to.Lng - p.at.Lng) / 10
	return p.at, nil
}

// narrate prints every session snapshot an engine publishes.
func narrate(side string, e *client.Engine) {
	for s := range e.Store().Watch() {
		fmt.Printf("[%s] trip=%s phase=%s seq=%d\n", side, s.TripID, s.Phase, s.LastSeq)
	}
}

func waitPhase(ctx context.Context, e *client.Engine, want trip.Phase) error {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if s, ok := e.Session(); ok && s.Phase == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func waitHealthy(ctx context.Context, base string) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}
