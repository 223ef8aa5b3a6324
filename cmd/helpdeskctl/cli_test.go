package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("HELPDESKCTL_SERVER", "")

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]any
}

func fakeServer(t *testing.T, status int, payload any) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(ts.Close)
	return ts, rec
}

func TestTicketsListPrintsTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ts, rec := fakeServer(t, http.StatusOK, map[string]any{
		"tickets": []map[string]any{
			{"id": "t-1", "subject": "Late parcel", "status": "open", "priority": "high", "updated_at": now},
		},
		"count": 1,
	})

	stdout, _, err := executeCLI(t, t.TempDir(), "--server", ts.URL, "tickets", "list", "--status", "open", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "/v1/tickets", rec.path)
	assert.Equal(t, "limit=5&status=open", rec.query)
	assert.Contains(t, stdout, "Late parcel")
	assert.Contains(t, stdout, "tickets: 1")
}

func TestTicketsSetStatusSendsPatch(t *testing.T) {
	ts, rec := fakeServer(t, http.StatusOK, map[string]any{"id": "t-1", "status": "closed"})

	stdout, _, err := executeCLI(t, t.TempDir(), "--server", ts.URL, "tickets", "set-status", "t-1", "closed")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "/v1/tickets/t-1", rec.path)
	assert.Equal(t, "closed", rec.body["status"])
	assert.Contains(t, stdout, "ticket t-1 is now closed")
}

func TestTicketsGetSurfacesAPIError(t *testing.T) {
	ts, _ := fakeServer(t, http.StatusNotFound, map[string]string{"error": "ticket not found", "code": "ticket_not_found"})

	_, _, err := executeCLI(t, t.TempDir(), "--server", ts.URL, "tickets", "get", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket_not_found (404)")
}

func TestQueueAcceptOnEmptyQueue(t *testing.T) {
	ts, rec := fakeServer(t, http.StatusConflict, map[string]string{"error": "queue empty", "code": "queue_empty"})

	stdout, _, err := executeCLI(t, t.TempDir(), "--server", ts.URL, "queue", "accept", "--agent-id", "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.body["agent_id"])
	assert.Contains(t, stdout, "queue is empty")
}

func TestQueueReleasePostsSession(t *testing.T) {
	ts, rec := fakeServer(t, http.StatusOK, map[string]any{"session_id": "s-9", "position": 2})

	stdout, _, err := executeCLI(t, t.TempDir(), "--server", ts.URL, "queue", "release", "s-9")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/v1/queue/s-9/release", rec.path)
	assert.Contains(t, stdout, "session s-9 is back in line at position 2")
}

func TestQueueAcceptRequiresAgent(t *testing.T) {
	_, _, err := executeCLI(t, t.TempDir(), "queue", "accept")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent id is required")
}

func TestConfigInitThenServerFromFile(t *testing.T) {
	home := t.TempDir()
	ts, rec := fakeServer(t, http.StatusOK, map[string]any{"entries": []any{}})

	stdout, _, err := executeCLI(t, home, "--server", ts.URL, "config", "init", "--agent-id", "a7")
	require.NoError(t, err)
	path := filepath.Join(home, ".config", "helpdeskctl", "config.toml")
	assert.Contains(t, stdout, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Regexp(t, `agent_id = ['"]a7['"]`, string(raw))

	_, _, err = executeCLI(t, home, "config", "init")
	require.Error(t, err)

	stdout, _, err = executeCLI(t, home, "queue")
	require.NoError(t, err)
	assert.Equal(t, "/v1/queue", rec.path)
	assert.Contains(t, stdout, "waiting: 0")
}

func TestExplicitMissingConfigFails(t *testing.T) {
	home := t.TempDir()
	_, _, err := executeCLI(t, home, "--config", filepath.Join(home, "nope.toml"), "config", "show")
	require.Error(t, err)
}
