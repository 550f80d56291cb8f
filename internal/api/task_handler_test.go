package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskwell/taskwell/internal/engine"
	"github.com/taskwell/taskwell/internal/platform/memory"
)

// newTestRouter wires a handler over an engine backed by the in-memory
// stores. The engine is not started: the API surface does not depend on
// running workers.
func newTestRouter(t *testing.T) (chi.Router, *engine.Engine) {
	t.Helper()

	backend := memory.NewBackend()
	eng, err := engine.New(engine.Deps{
		Tasks:      backend,
		Queue:      backend,
		Processing: backend.ProcessingSet(),
		Results:    backend,
	}, engine.Config{}, nil)
	require.NoError(t, err)

	eng.RegisterHandler("echo", func(ctx context.Context, payload json.RawMessage) (any, error) {
		return payload, nil
	})

	handler := NewTaskHandler(eng)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", handler.SubmitTask)
		r.Get("/tasks/{id}", handler.GetTask)
		r.Delete("/tasks/{id}", handler.CancelTask)
		r.Get("/queue", handler.GetQueueInfo)
		r.Get("/stats", handler.GetStats)
	})

	return r, eng
}

func doRequest(t *testing.T, router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestSubmitTaskEndpoint(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	body := []byte(`{"type":"echo","payload":{"msg":"hi"},"priority":3,"timeout_seconds":60,"correlation_id":"req-42"}`)
	rr := doRequest(t, router, http.MethodPost, "/api/tasks", body)

	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)

	id, err := uuid.Parse(resp.TaskID)
	require.NoError(t, err)

	// The record is visible immediately after submission.
	rr = doRequest(t, router, http.MethodGet, "/api/tasks/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var task TaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &task))
	assert.Equal(t, "echo", task.Type)
	assert.Equal(t, "pending", task.Status)
	assert.Equal(t, "high", task.Priority)
	assert.Equal(t, "req-42", task.CorrelationID)
}

func TestSubmitTaskEndpointValidation(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed_json", `{"type":`},
		{"missing_type", `{"payload":{}}`},
		{"priority_out_of_range", `{"type":"echo","priority":9}`},
		{"negative_timeout", `{"type":"echo","timeout_seconds":-5}`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rr := doRequest(t, router, http.MethodPost, "/api/tasks", []byte(tc.body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestGetTaskEndpointNotFound(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	rr := doRequest(t, router, http.MethodGet, "/api/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Task not found", resp.Error)
}

func TestGetTaskEndpointInvalidID(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	rr := doRequest(t, router, http.MethodGet, "/api/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelTaskEndpoint(t *testing.T) {
	t.Parallel()
	router, eng := newTestRouter(t)

	id, err := eng.SubmitTask(context.Background(), engine.SubmitRequest{Type: "echo"})
	require.NoError(t, err)

	rr := doRequest(t, router, http.MethodDelete, "/api/tasks/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp CancelTaskResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Cancelled)

	// Cancelling a terminal task reports false, still 200.
	rr = doRequest(t, router, http.MethodDelete, "/api/tasks/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Cancelled)
}

func TestQueueInfoEndpoint(t *testing.T) {
	t.Parallel()
	router, eng := newTestRouter(t)

	_, err := eng.SubmitTask(context.Background(), engine.SubmitRequest{Type: "echo"})
	require.NoError(t, err)

	rr := doRequest(t, router, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var info engine.QueueInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Len(t, info.QueuedTasks, 1)
	assert.Contains(t, info.RegisteredHandlers, "echo")
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	router, eng := newTestRouter(t)

	_, err := eng.SubmitTask(context.Background(), engine.SubmitRequest{Type: "echo"})
	require.NoError(t, err)

	rr := doRequest(t, router, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var stats engine.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.QueueSize)
	assert.Equal(t, 1, stats.TotalTasks)
	assert.False(t, stats.IsRunning)
	assert.Equal(t, time.Duration(0), stats.AverageProcessingTime)
}