// Package notify produces outbound chat notifications. Delivery is
// fire-and-forget from the caller's perspective: tasks enqueue an event and
// move on; delivery failures are logged here, never surfaced to the task.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event is one structured outbound message.
type Event struct {
	Title string
	Body  string
	Color int
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// Notifier posts events to a Discord-compatible webhook from a background
// goroutine. A zero webhook URL turns it into a logging sink.
type Notifier struct {
	url    string
	client *http.Client
	queue  chan Event
	log    *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

func New(webhookURL string, log *slog.Logger) *Notifier {
	return &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
		queue:  make(chan Event, 16),
		log:    log.With("component", "notify"),
	}
}

// Start launches the delivery goroutine. It drains the queue until ctx is
// cancelled, then flushes what is still queued on a short grace window so
// shutdown does not swallow events published moments earlier.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				n.flush()
				return
			case evt := <-n.queue:
				err := n.send(ctx, evt)
				if err != nil && ctx.Err() != nil {
					// Drawn in a race with cancellation; retry on the
					// flush deadline instead of dropping it.
					fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
					err = n.send(fctx, evt)
					cancel()
				}
				if err != nil {
					n.log.Warn("notification delivery failed", "title", evt.Title, "error", err)
				}
			}
		}
	}()
}

// flushTimeout bounds shutdown delivery of events still in the queue.
const flushTimeout = 5 * time.Second

// flush delivers queued events on its own deadline, independent of the
// already-cancelled run context.
func (n *Notifier) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case evt := <-n.queue:
			if err := n.send(ctx, evt); err != nil {
				n.log.Warn("notification delivery failed on shutdown", "title", evt.Title, "error", err)
			}
		default:
			return
		}
	}
}

// Wait blocks until the delivery goroutine has exited.
func (n *Notifier) Wait() { n.wg.Wait() }

// Publish enqueues an event without blocking. If the queue is full the event
// is dropped and logged; the calling task never stalls on delivery.
func (n *Notifier) Publish(evt Event) {
	select {
	case n.queue <- evt:
	default:
		n.log.Warn("notification queue full, dropping event", "title", evt.Title)
	}
}

func (n *Notifier) send(ctx context.Context, evt Event) error {
	if n.url == "" {
		n.log.Info("notification (no webhook configured)", "title", evt.Title, "body", evt.Body)
		return nil
	}
	payload, err := json.Marshal(webhookPayload{Embeds: []embed{{
		Title:       evt.Title,
		Description: evt.Body,
		Color:       evt.Color,
	}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	n.log.Debug("notification delivered", "title", evt.Title)
	return nil
}
