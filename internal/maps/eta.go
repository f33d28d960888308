package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"tripsync/internal/types"
)

// ETAService answers "how far away is the driver / how long to the dropoff"
// for the view layer. Display only; the trip state machine never consults it.
type ETAService struct {
	client *maps.Client
}

// NewETAService creates an ETAService with the given API key.
func NewETAService(apiKey string) (*ETAService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &ETAService{client: client}, nil
}

// TravelEstimate returns the driving duration and a human-readable distance
// between two coordinates.
func (s *ETAService) TravelEstimate(ctx context.Context, origin, destination types.Point) (time.Duration, string, error) {
	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", origin.Lat, origin.Lng),
		Destination: fmt.Sprintf("%f,%f", destination.Lat, destination.Lng),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, "", fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, "", fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	return leg.Duration, leg.Distance.HumanReadable, nil
}
