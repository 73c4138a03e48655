package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(ts string, path string) string {
	return "ws" + strings.TrimPrefix(ts, "http") + path
}

func TestTaskStreamRequiresToken(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/ws/tasks/task-1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTaskStreamReplayAndLive(t *testing.T) {
	f := newFixture(t)
	token, err := f.tokens.Create("viewer")
	require.NoError(t, err)

	f.stream.Info("task-1", "task executors: alice")
	f.stream.Success("task-1", "execution step-1 succeeded")

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(f.ts.URL, "/ws/tasks/task-1?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, replay, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(replay), "task executors: alice")
	assert.Contains(t, string(replay), "execution step-1 succeeded")

	// Live lines keep flowing after the replay. The broker delivers
	// asynchronously, so give the subscription a moment to register.
	time.Sleep(50 * time.Millisecond)
	f.stream.Warn("task-1", "task paused: confirm the backup finished")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, live, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(live), "confirm the backup finished")
}

func TestTaskStreamIsolatedPerTask(t *testing.T) {
	f := newFixture(t)
	token, err := f.tokens.Create("viewer")
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(
		wsURL(f.ts.URL, "/ws/tasks/task-a?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	time.Sleep(50 * time.Millisecond)
	f.stream.Info("task-b", "other task line")
	f.stream.Info("task-a", "our task line")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "our task line")
	assert.NotContains(t, string(msg), "other task line")
}
