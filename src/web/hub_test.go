package web

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"SiniestralidadVial/src/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubUnregistersClosedClients(t *testing.T) {
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "hub.log"), nil)
	require.NoError(t, err)
	defer logger.Close()

	hub := NewHub(logger)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleConnections))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	b, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer b.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	a.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast([]byte("reload"))
	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "reload", string(msg))

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())
}
