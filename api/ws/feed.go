// Package ws streams execution reports to websocket clients.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stockbook/domain/execution"
)

const (
	subscriberBuffer = 256
	writeWait        = 5 * time.Second
)

type message struct {
	Type string           `json:"type"`
	Data execution.Report `json:"data"`
}

// Feed serves GET /ws/executions and receives reports from the order
// service as its Notifier.
type Feed struct {
	hub      *Hub[execution.Report]
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewFeed(log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		hub:      NewHub[execution.Report](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      log.Named("ws"),
	}
}

// Notify is called from the matching goroutine and never blocks.
func (f *Feed) Notify(r execution.Report) {
	if n := f.hub.Broadcast(r); n > 0 {
		f.log.Debug("slow subscribers dropped report", zap.Uint64("seq", r.Seq), zap.Int("dropped", n))
	}
}

// Subscribers returns the number of connected clients.
func (f *Feed) Subscribers() int {
	return f.hub.Len()
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := f.hub.Subscribe(subscriberBuffer)
	defer f.hub.Unsubscribe(sub)

	// Clients only listen; reading detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case report, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(message{Type: "execution", Data: report}); err != nil {
				f.log.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}
