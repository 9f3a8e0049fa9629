package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/concierge/internal/protocol"
)

func newVoiceTestServer(t *testing.T, handler func(conn *websocket.Conn)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("x_api_key") == "bad" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/v3/voice/chat/?agent_id=a1&x_api_key=k"
	return wsURL, server.Close
}

func readFrame(t *testing.T, c *Channel) Frame {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		require.True(t, ok, "frames closed early")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func TestChannelDeliversFramesInOrder(t *testing.T) {
	t.Parallel()

	url, closeServer := newVoiceTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"processing"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"Hello","role":"agent"}`))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})
	defer closeServer()

	c, err := Dial(context.Background(), url, time.Second, nil)
	require.NoError(t, err)
	defer c.Close()

	f := readFrame(t, c)
	assert.Equal(t, protocol.FrameText, f.Kind)
	assert.JSONEq(t, `{"status":"processing"}`, string(f.Data))

	f = readFrame(t, c)
	assert.Equal(t, protocol.FrameBinary, f.Kind)
	assert.Equal(t, []byte{1, 2, 3, 4}, f.Data)

	f = readFrame(t, c)
	assert.Equal(t, protocol.FrameText, f.Kind)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not finish after remote close")
	}
	_, ok := <-c.Frames()
	assert.False(t, ok)
	assert.NoError(t, c.Err())
	assert.False(t, c.IsOpen())
}

func TestChannelSendWritesBinary(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 1)
	url, closeServer := newVoiceTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		mt, data, err := conn.ReadMessage()
		if err != nil || mt != websocket.BinaryMessage {
			return
		}
		received <- data
		_, _, _ = conn.ReadMessage()
	})
	defer closeServer()

	c, err := Dial(context.Background(), url, time.Second, nil)
	require.NoError(t, err)
	require.True(t, c.IsOpen())
	require.NoError(t, c.Send([]byte("chunk")))

	select {
	case got := <-received:
		assert.Equal(t, []byte("chunk"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received chunk")
	}

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Send([]byte("late")), ErrChannelClosed)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit after Close")
	}
	assert.NoError(t, c.Err())
}

func TestChannelAbnormalCloseSurfacesError(t *testing.T) {
	t.Parallel()

	url, closeServer := newVoiceTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer closeServer()

	c, err := Dial(context.Background(), url, time.Second, nil)
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not finish")
	}
	require.Error(t, c.Err())
}

func TestDialRejectedHandshake(t *testing.T) {
	t.Parallel()

	url, closeServer := newVoiceTestServer(t, func(conn *websocket.Conn) { conn.Close() })
	defer closeServer()
	url = strings.Replace(url, "x_api_key=k", "x_api_key=bad", 1)

	_, err := Dial(context.Background(), url, time.Second, nil)
	var dErr *DialError
	require.True(t, errors.As(err, &dErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, dErr.StatusCode)
	assert.NotContains(t, dErr.Error(), "x_api_key=bad")
}

func TestDialCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/never", time.Second, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
