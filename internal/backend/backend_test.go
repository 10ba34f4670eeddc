package backend

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacklogRolls(t *testing.T) {
	b := NewBacklog(10)

	b.Append([]byte("12345"))
	assert.Equal(t, "12345", string(b.Bytes()))

	b.Append([]byte("67890"))
	assert.Equal(t, "1234567890", string(b.Bytes()))

	// Overflow drops the oldest bytes.
	b.Append([]byte("AB"))
	assert.Equal(t, "34567890AB", string(b.Bytes()))
	assert.Equal(t, 10, b.Len())
}

func TestBacklogOversizeAppend(t *testing.T) {
	b := NewBacklog(4)
	b.Append([]byte("abcdefgh"))
	assert.Equal(t, "efgh", string(b.Bytes()))
}

func TestBacklogBytesIsCopy(t *testing.T) {
	b := NewBacklog(16)
	b.Append([]byte("data"))
	got := b.Bytes()
	got[0] = 'X'
	assert.Equal(t, "data", string(b.Bytes()))
}

func TestFlagsEndpoint(t *testing.T) {
	srv := NewServer(Config{AutoExecutePrompt: true})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/flags")
	require.NoError(t, err)
	defer resp.Body.Close()

	var flags map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flags))
	assert.True(t, flags["autoExecutePrompt"])
}

func TestHealthz(t *testing.T) {
	srv := NewServer(Config{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// dialWS opens a websocket client against the test server.
func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var msg message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("never received %q", msgType)
	return message{}
}

func TestSessionLifecycleOverWebsocket(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real pty")
	}

	// cat echoes stdin back through the pty, giving deterministic output
	// without depending on shell prompts.
	srv := NewServer(Config{Shell: "/bin/cat"})
	defer srv.Close()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteJSON(message{Type: "attach", Rows: 24, Cols: 80}))

	announce := readUntil(t, conn, "new_session")
	require.NotEmpty(t, announce.SessionID)
	assert.Equal(t, 1, srv.SessionCount())

	input := base64.StdEncoding.EncodeToString([]byte("hello backend\r"))
	require.NoError(t, conn.WriteJSON(message{Type: "input", Data: input}))

	var output bytes.Buffer
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg := readUntil(t, conn, "output")
		data, err := base64.StdEncoding.DecodeString(msg.Data)
		require.NoError(t, err)
		output.Write(data)
		if bytes.Contains(output.Bytes(), []byte("hello backend")) {
			break
		}
	}
	assert.Contains(t, output.String(), "hello backend")

	// Drop the transport; the session must survive.
	conn.Close()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, srv.SessionCount())

	// Resume with the known id: identity is confirmed and the backlog
	// replays the output we already saw.
	conn2 := dialWS(t, ts)
	require.NoError(t, conn2.WriteJSON(message{
		Type: "attach", SessionID: announce.SessionID, Rows: 24, Cols: 80,
	}))
	confirmed := readUntil(t, conn2, "session_id")
	assert.Equal(t, announce.SessionID, confirmed.SessionID)

	resync := readUntil(t, conn2, "reconnected")
	buffer, err := base64.StdEncoding.DecodeString(resync.Buffer)
	require.NoError(t, err)
	assert.Contains(t, string(buffer), "hello backend")

	// Listing shows the session; destroying removes it.
	require.NoError(t, conn2.WriteJSON(message{Type: "list_server_sessions"}))
	list := readUntil(t, conn2, "server_sessions")
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, announce.SessionID, list.Sessions[0].SessionID)

	require.NoError(t, conn2.WriteJSON(message{
		Type: "destroy_sessions", SessionIDs: []string{announce.SessionID},
	}))
	ack := readUntil(t, conn2, "sessions_destroyed")
	assert.Equal(t, []string{announce.SessionID}, ack.SessionIDs)
	assert.Equal(t, 0, srv.SessionCount())
}

func TestAttachUnknownIDSpawnsFresh(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a real pty")
	}

	srv := NewServer(Config{Shell: "/bin/cat"})
	defer srv.Close()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteJSON(message{
		Type: "attach", SessionID: "gone-forever", Rows: 24, Cols: 80,
	}))

	// A dead id cannot be resumed; the client gets a fresh session under a
	// new identity instead.
	announce := readUntil(t, conn, "new_session")
	assert.NotEmpty(t, announce.SessionID)
	assert.NotEqual(t, "gone-forever", announce.SessionID)
}
