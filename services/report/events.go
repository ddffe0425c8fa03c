package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const eventsPath = "/v1/events"

type EventType string

const (
	EventStackUp       EventType = "stack_up"
	EventStackDown     EventType = "stack_down"
	EventServiceReady  EventType = "service_ready"
	EventServiceFailed EventType = "service_failed"
)

type Event struct {
	Stack   string    `json:"stack"`
	Run     uuid.UUID `json:"run"`
	Type    EventType `json:"type"`
	Service string    `json:"service,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time"`
}

// Publish posts one event. The endpoint acknowledges with 200, 201 or 202;
// anything else is an error including the response body.
func (r *Reporter) Publish(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	client, _, err := r.Client()
	if err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := r.NewRequest(ctx, http.MethodPost, eventsPath, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	default:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("publish event failed (%d): %s", resp.StatusCode, string(b))
	}
}
