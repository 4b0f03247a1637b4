package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/deckhand/internal/core/domain"
)

func finishedRun(t *testing.T, status domain.RunStatus) *domain.Run {
	t.Helper()

	run, err := domain.NewRun("shop-api", domain.TriggerPush, "refs/heads/main")
	require.NoError(t, err)
	run.Commit = "abc123"

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	run.AppendStep(domain.StepResult{
		Name:       "pull main",
		Command:    "git -C '/srv/shop-api' pull origin 'main'",
		Status:     domain.StepOK,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	})
	run.AppendStep(domain.StepResult{
		Name:       "compose down",
		Command:    "docker compose down",
		Status:     domain.StepWarned,
		ExitCode:   1,
		StartedAt:  started.Add(2 * time.Second),
		FinishedAt: started.Add(3 * time.Second),
	})

	require.NoError(t, run.Transition(domain.RunRunning))
	if status == domain.RunFailed {
		require.NoError(t, run.Fail("step pull main: fatal: could not read from remote repository"))
	} else {
		require.NoError(t, run.Transition(status))
	}
	return run
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{
		URL:       "http://localhost:9000/hooks/deploys",
		AuthToken: "test-token",
	}, slog.Default())

	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:9000/hooks/deploys", client.url)
	assert.Equal(t, "test-token", client.authToken)
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	client := NewClient(Config{URL: "http://localhost:9000"}, nil)

	assert.NotNil(t, client.httpClient)
	assert.Equal(t, 10*time.Second, client.httpClient.Timeout)
	assert.NotNil(t, client.logger)
}

func TestClient_RunFinished(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL, AuthToken: "test-token"}, slog.Default())

	run := finishedRun(t, domain.RunSucceeded)
	client.RunFinished(context.Background(), run)

	assert.Equal(t, "deploy.finished", received.Event)
	assert.Equal(t, "shop-api", received.Target)
	assert.Equal(t, run.ID, received.RunID)
	assert.Equal(t, "push", received.Trigger)
	assert.Equal(t, "refs/heads/main", received.Ref)
	assert.Equal(t, "abc123", received.Commit)
	assert.Equal(t, "succeeded", received.Status)
	assert.Empty(t, received.Error)
	require.NotNil(t, received.FinishedAt)

	require.Len(t, received.Steps, 2)
	assert.Equal(t, "pull main", received.Steps[0].Name)
	assert.Equal(t, "ok", received.Steps[0].Status)
	assert.Equal(t, "2s", received.Steps[0].Duration)
	assert.Equal(t, "compose down", received.Steps[1].Name)
	assert.Equal(t, "warned", received.Steps[1].Status)
	assert.Equal(t, 1, received.Steps[1].ExitCode)
}

func TestClient_RunFinished_FailedRun(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL}, slog.Default())
	client.RunFinished(context.Background(), finishedRun(t, domain.RunFailed))

	assert.Equal(t, "failed", received.Status)
	assert.Contains(t, received.Error, "could not read from remote repository")
}

func TestClient_RunFinished_ServerErrorIsSwallowed(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "internal server error"}`))
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL}, slog.Default())

	// Must not panic or retry; the run outcome is already settled.
	client.RunFinished(context.Background(), finishedRun(t, domain.RunSucceeded))
	assert.Equal(t, 1, calls)
}

func TestClient_RunFinished_UnreachableEndpoint(t *testing.T) {
	client := NewClient(Config{URL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond}, slog.Default())

	client.RunFinished(context.Background(), finishedRun(t, domain.RunSucceeded))
}

func TestEventFromRun_NoSteps(t *testing.T) {
	run, err := domain.NewRun("shop-api", domain.TriggerManual, "refs/heads/main")
	require.NoError(t, err)

	event := EventFromRun(run)
	assert.Equal(t, "manual", event.Trigger)
	assert.Equal(t, "pending", event.Status)
	assert.Empty(t, event.Steps)
	assert.Nil(t, event.StartedAt)
	assert.Nil(t, event.FinishedAt)
}
