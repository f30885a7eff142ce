package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishDeliversWebhook(t *testing.T) {
	got := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := New(srv.URL, discard())
	n.Start(ctx)
	n.Publish(Event{Title: "New dig spotted", Body: "A dig appeared on the map", Color: 0xFFA500})

	select {
	case p := <-got:
		require.Len(t, p.Embeds, 1)
		assert.Equal(t, "New dig spotted", p.Embeds[0].Title)
		assert.Equal(t, 0xFFA500, p.Embeds[0].Color)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called")
	}
}

func TestShutdownFlushesQueuedEvents(t *testing.T) {
	// Events published before cancellation still go out, on the flush
	// deadline rather than the dead run context.
	got := make(chan webhookPayload, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(srv.URL, discard())
	n.Publish(Event{Title: "first"})
	n.Publish(Event{Title: "second"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Start(ctx)
	n.Wait()

	require.Len(t, got, 2)
	assert.Equal(t, "first", (<-got).Embeds[0].Title)
	assert.Equal(t, "second", (<-got).Embeds[0].Title)
}

func TestPublishNeverBlocks(t *testing.T) {
	// No Start: the queue fills up and further events are dropped.
	n := New("http://127.0.0.1:0", discard())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Publish(Event{Title: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}
