package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/alextanhongpin/flagcore/ferrors"
	"github.com/google/uuid"
)

// maxEventSerializedLength is the largest an individual event's JSON
// encoding may be before it is rejected outright (§4.12).
const maxEventSerializedLength = 4096

// DeliveryStatus partitions a delivered batch into terminal successes,
// terminal failures, and events the retry stage should re-attempt.
type DeliveryStatus struct {
	Success []QueuedEvent
	Failure []QueuedEvent
	Retry   []QueuedEvent
}

type deliveryError struct {
	err          error
	nonRetriable bool
}

func (e *deliveryError) Error() string { return e.err.Error() }

func retriable(err error) *deliveryError { return &deliveryError{err: err} }
func nonRetriable(err error) *deliveryError {
	return &deliveryError{err: err, nonRetriable: true}
}

// Delivery POSTs event batches to the ingestion endpoint and classifies
// the outcome per event, grounded on event_delivery.rs's EventDelivery.
type Delivery struct {
	client       *http.Client
	sdkKey       string
	ingestionURL string
	contextMu    sync.Mutex
	context      map[string]any
}

// NewDelivery constructs a Delivery posting to ingestionURL with the
// X-Eppo-Token header set to sdkKey.
func NewDelivery(client *http.Client, sdkKey, ingestionURL string) *Delivery {
	return &Delivery{
		client:       client,
		sdkKey:       sdkKey,
		ingestionURL: ingestionURL,
		context:      make(map[string]any),
	}
}

// AttachContext records a context entry to be included as a top-level
// object on every subsequent delivery request. value must be a JSON
// primitive (string, number, bool, or nil); objects and arrays are
// rejected (§4.12, §6.1).
func (d *Delivery) AttachContext(key string, value any) error {
	switch value.(type) {
	case nil, bool, string, float64, int, int64, json.Number:
	default:
		return fmt.Errorf("%w: context value for %q must be a string, number, boolean, or null", ferrors.Get("flagcore.type_mismatch"), key)
	}

	d.contextMu.Lock()
	defer d.contextMu.Unlock()
	d.context[key] = value

	return nil
}

// Deliver POSTs events and classifies the response. Over-size events are
// rejected before the request is sent and never occupy a retry slot.
func (d *Delivery) Deliver(ctx context.Context, events []QueuedEvent) DeliveryStatus {
	var status DeliveryStatus

	deliverable := make([]QueuedEvent, 0, len(events))
	for _, qe := range events {
		encoded, err := json.Marshal(qe.Event)
		if err != nil || len(encoded) > maxEventSerializedLength {
			slog.Warn("ingestion: dropping oversized event", "uuid", qe.Event.UUID, "reason", ferrors.Get("flagcore.event_too_large"))
			status.Failure = append(status.Failure, qe)
			continue
		}
		deliverable = append(deliverable, qe)
	}

	if len(deliverable) == 0 {
		return status
	}

	failedEvents, err := d.deliver(ctx, deliverable)
	if err != nil {
		if err.nonRetriable {
			status.Failure = append(status.Failure, deliverable...)
		} else {
			status.Retry = append(status.Retry, deliverable...)
		}
		return status
	}

	if len(failedEvents) == 0 {
		status.Success = append(status.Success, deliverable...)
		return status
	}

	for _, qe := range deliverable {
		if failedEvents[qe.Event.UUID] {
			status.Retry = append(status.Retry, qe)
		} else {
			status.Success = append(status.Success, qe)
		}
	}

	return status
}

type ingestionRequestBody struct {
	Context    map[string]any `json:"context"`
	EppoEvents []Event        `json:"eppo_events"`
}

type ingestionResponseBody struct {
	FailedEvents []uuid.UUID `json:"failed_events"`
}

func (d *Delivery) deliver(ctx context.Context, queued []QueuedEvent) (map[uuid.UUID]bool, *deliveryError) {
	events := make([]Event, len(queued))
	for i, qe := range queued {
		events[i] = qe.Event
	}

	d.contextMu.Lock()
	ctxSnapshot := make(map[string]any, len(d.context))
	for k, v := range d.context {
		ctxSnapshot[k] = v
	}
	d.contextMu.Unlock()

	body, err := json.Marshal(ingestionRequestBody{Context: ctxSnapshot, EppoEvents: events})
	if err != nil {
		return nil, nonRetriable(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.ingestionURL, bytes.NewReader(body))
	if err != nil {
		return nil, nonRetriable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Eppo-Token", d.sdkKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, retriable(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest,
		http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusConflict,
		http.StatusUnprocessableEntity:
		return nil, nonRetriable(fmt.Errorf("ingestion: status %d", resp.StatusCode))
	}

	if resp.StatusCode >= 500 {
		return nil, retriable(fmt.Errorf("ingestion: status %d", resp.StatusCode))
	}

	if resp.StatusCode >= 300 {
		return nil, retriable(fmt.Errorf("ingestion: unexpected status %d", resp.StatusCode))
	}

	var decoded ingestionResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, nonRetriable(err)
	}

	failed := make(map[uuid.UUID]bool, len(decoded.FailedEvents))
	for _, id := range decoded.FailedEvents {
		failed[id] = true
	}

	return failed, nil
}

