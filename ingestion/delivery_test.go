package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueuedEvent(eventType string) QueuedEvent {
	return QueuedEvent{Event: Event{
		UUID:      uuid.New(),
		Timestamp: time.Now(),
		Type:      eventType,
		Payload:   map[string]any{"k": "v"},
	}}
}

func TestDelivery_Success(t *testing.T) {
	qe := newQueuedEvent("test")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Eppo-Token"))
		var body ingestionRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.EppoEvents, 1)
		assert.Equal(t, qe.Event.UUID, body.EppoEvents[0].UUID)

		_ = json.NewEncoder(w).Encode(ingestionResponseBody{})
	}))
	defer srv.Close()

	d := NewDelivery(srv.Client(), "secret", srv.URL)
	status := d.Deliver(context.Background(), []QueuedEvent{qe})
	assert.Equal(t, []QueuedEvent{qe}, status.Success)
	assert.Empty(t, status.Failure)
	assert.Empty(t, status.Retry)
}

func TestDelivery_PartialFailureClassifiesAsRetry(t *testing.T) {
	ok := newQueuedEvent("ok")
	bad := newQueuedEvent("bad")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ingestionResponseBody{FailedEvents: []uuid.UUID{bad.Event.UUID}})
	}))
	defer srv.Close()

	d := NewDelivery(srv.Client(), "secret", srv.URL)
	status := d.Deliver(context.Background(), []QueuedEvent{ok, bad})
	assert.Equal(t, []QueuedEvent{ok}, status.Success)
	assert.Equal(t, []QueuedEvent{bad}, status.Retry)
}

func TestDelivery_ServerErrorIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDelivery(srv.Client(), "secret", srv.URL)
	qe := newQueuedEvent("test")
	status := d.Deliver(context.Background(), []QueuedEvent{qe})
	assert.Equal(t, []QueuedEvent{qe}, status.Retry)
	assert.Empty(t, status.Failure)
}

func TestDelivery_UnauthorizedIsNonRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDelivery(srv.Client(), "secret", srv.URL)
	qe := newQueuedEvent("test")
	status := d.Deliver(context.Background(), []QueuedEvent{qe})
	assert.Equal(t, []QueuedEvent{qe}, status.Failure)
	assert.Empty(t, status.Retry)
}

func TestDelivery_OversizedEventRejectedBeforeSend(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(ingestionResponseBody{})
	}))
	defer srv.Close()

	qe := newQueuedEvent("test")
	qe.Event.Payload = strings.Repeat("x", maxEventSerializedLength+1)

	d := NewDelivery(srv.Client(), "secret", srv.URL)
	status := d.Deliver(context.Background(), []QueuedEvent{qe})
	assert.Equal(t, []QueuedEvent{qe}, status.Failure)
	assert.False(t, called)
}

func TestDelivery_AttachContextRejectsObjectsAndArrays(t *testing.T) {
	d := NewDelivery(http.DefaultClient, "secret", "http://example.test")
	require.Error(t, d.AttachContext("k", map[string]any{"a": 1}))
	require.Error(t, d.AttachContext("k", []any{1, 2}))
	require.NoError(t, d.AttachContext("k", "v"))
	require.NoError(t, d.AttachContext("k", 42.0))
	require.NoError(t, d.AttachContext("k", true))
	require.NoError(t, d.AttachContext("k", nil))
}

func TestDelivery_AttachContextIncludedInRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body ingestionRequestBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "value", body.Context["string"])
		assert.Equal(t, true, body.Context["boolean"])
		_ = json.NewEncoder(w).Encode(ingestionResponseBody{})
	}))
	defer srv.Close()

	d := NewDelivery(srv.Client(), "secret", srv.URL)
	require.NoError(t, d.AttachContext("string", "value"))
	require.NoError(t, d.AttachContext("boolean", true))

	d.Deliver(context.Background(), []QueuedEvent{newQueuedEvent("test")})
}
