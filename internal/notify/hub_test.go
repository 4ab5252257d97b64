package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/event"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)
	return hub, "ws" + server.URL[len("http"):]
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub, url := startHub(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	e := event.NewLoanDelinquent(30, domain.Investment{ID: 10, LoanID: 1}, domain.Loan{ID: 1},
		civil.Date{Year: 2024, Month: 3, Day: 22}, domain.Overview{})
	require.NoError(t, hub.Handle(context.Background(), e))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Data struct {
			ThresholdInDays int    `json:"thresholdInDays"`
			Since           string `json:"since"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "LoanDelinquent30DaysOrMoreEvent", got.Type)
	assert.Equal(t, e.ID.String(), got.ID)
	assert.Equal(t, 30, got.Data.ThresholdInDays)
	assert.Equal(t, "2024-03-22", got.Data.Since)
}

func TestHub_HandleWithoutSubscribers(t *testing.T) {
	hub, _ := startHub(t)

	err := hub.Handle(context.Background(), event.NewLoanRepaid(domain.Investment{}, domain.Loan{}, domain.Overview{}))

	assert.NoError(t, err)
}

func TestHub_StopClosesConnectionsAndRejectsLateOnes(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()
	url := "ws" + server.URL[len("http"):]

	early, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer early.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-hub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Zero(t, hub.Subscribers())
	assertClosedByServer(t, early)

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	assertClosedByServer(t, late)
}

func assertClosedByServer(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection left open: %v", err)
}
