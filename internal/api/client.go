// README: Trip REST API client; every call returns the server's trip record
// with the seq assigned to the resulting state event.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tripsync/internal/types"
)

// ActionFailedError is any REST call the server rejected or that timed out.
// The caller reverts optimistic UI state and surfaces a transient notice.
type ActionFailedError struct {
	Status int
	Reason string
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("action failed (%d): %s", e.Status, e.Reason)
}

// TripRecord is the server's view of one trip as returned by every mutation.
type TripRecord struct {
	TripID      types.ID `json:"trip_id"`
	Status      string   `json:"status"`
	Seq         int64    `json:"seq"`
	PassengerID types.ID `json:"passenger_id"`
	DriverID    types.ID `json:"driver_id,omitempty"`
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

type RequestTripParams struct {
	PassengerID types.ID    `json:"passenger_id"`
	Pickup      types.Point `json:"pickup"`
	Dropoff     types.Point `json:"dropoff"`
}

func (c *Client) RequestTrip(ctx context.Context, p RequestTripParams) (TripRecord, error) {
	return c.post(ctx, "/api/trips", p)
}

// GetTrip is the manual-refresh poll: the only catch-up path after a channel
// drop, since the broker keeps no replay buffer.
func (c *Client) GetTrip(ctx context.Context, tripID types.ID) (TripRecord, error) {
	return c.do(ctx, http.MethodGet, "/api/trips/"+string(tripID), nil)
}

func (c *Client) AcceptTrip(ctx context.Context, tripID, driverID types.ID) (TripRecord, error) {
	return c.post(ctx, fmt.Sprintf("/api/trips/%s/accept", tripID), map[string]any{"driver_id": driverID})
}

func (c *Client) RejectTrip(ctx context.Context, tripID, driverID types.ID) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/trips/%s/reject", tripID), map[string]any{"driver_id": driverID})
	return err
}

func (c *Client) CancelTrip(ctx context.Context, tripID types.ID, by types.Role, reason string) (TripRecord, error) {
	return c.post(ctx, fmt.Sprintf("/api/trips/%s/cancel", tripID), map[string]any{"by": by, "reason": reason})
}

func (c *Client) NotifyArrival(ctx context.Context, tripID types.ID) (TripRecord, error) {
	return c.post(ctx, fmt.Sprintf("/api/trips/%s/arrived", tripID), nil)
}

func (c *Client) NotifyDropoff(ctx context.Context, tripID types.ID) (TripRecord, error) {
	return c.post(ctx, fmt.Sprintf("/api/trips/%s/dropoff", tripID), nil)
}

func (c *Client) StartTrip(ctx context.Context, tripID types.ID, by types.Role) (TripRecord, error) {
	return c.post(ctx, fmt.Sprintf("/api/trips/%s/start", tripID), map[string]any{"by": by})
}

func (c *Client) CompleteTrip(ctx context.Context, tripID types.ID, by types.Role) (TripRecord, error) {
	return c.post(ctx, fmt.Sprintf("/api/trips/%s/complete", tripID), map[string]any{"by": by})
}

func (c *Client) post(ctx context.Context, path string, body any) (TripRecord, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (TripRecord, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return TripRecord{}, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return TripRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// timeouts and transport failures surface the same way as rejections
		var reason string
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "request timed out"
		} else {
			reason = err.Error()
		}
		return TripRecord{}, &ActionFailedError{Status: 0, Reason: reason}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		if er.Error == "" {
			er.Error = resp.Status
		}
		return TripRecord{}, &ActionFailedError{Status: resp.StatusCode, Reason: er.Error}
	}

	var rec TripRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return TripRecord{}, &ActionFailedError{Status: resp.StatusCode, Reason: "malformed response"}
	}
	return rec, nil
}
