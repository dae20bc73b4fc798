package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

type fixedSnapshot struct{ pos domain.Position }

func (f fixedSnapshot) Snapshot(context.Context) (domain.Position, error) { return f.pos, nil }

func TestHubRelaysPositionEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	pos := domain.EmptyPosition()
	pos.YesShares = decimal.NewFromInt(1250)
	pos.TotalInvested = decimal.NewFromInt(1000)

	hub := NewHub(bus, fixedSnapshot{pos: pos}, "will-it-rain", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first domain.PositionEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "position_snapshot", first.Event)
	assert.True(t, first.Position.HasPosition)
	assert.True(t, first.Position.YesShares.Equal(decimal.NewFromInt(1250)))

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	payload, err := json.Marshal(domain.PositionEvent{Event: domain.EventPositionHedged, Market: "will-it-rain"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.PositionsChannel, payload))

	var next domain.PositionEvent
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, domain.EventPositionHedged, next.Event)
}

func TestClientFilter(t *testing.T) {
	c := &client{}
	assert.True(t, c.wants(domain.EventPositionOpened))

	c.setFilter([]string{domain.EventPositionClosed})
	assert.False(t, c.wants(domain.EventPositionOpened))
	assert.True(t, c.wants(domain.EventPositionClosed))

	c.setFilter(nil)
	assert.True(t, c.wants(domain.EventPositionOpened))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://dash.example.com"})

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req), "requests without Origin are allowed")

	req.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}
