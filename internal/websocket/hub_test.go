package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_SnapshotAndBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.SetSnapshot(func() any { return map[string]int{"pipelines": 2} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pipelines:status", msg.Type)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Broadcast("pipeline:completed", map[string]any{"id": "downloader"}))

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pipeline:completed", msg.Type)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "downloader", payload["id"])
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var err error
	for i := 0; i < 300 && err == nil; i++ {
		err = hub.Broadcast("tick", i)
	}
	assert.ErrorIs(t, err, ErrBufferFull)
}
