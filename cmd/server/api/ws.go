package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/x007007007/docker-image-trans/lib/broadcast"
	"github.com/x007007007/docker-image-trans/lib/logger"
)

const (
	keepaliveInterval = 30 * time.Second
	controlTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The page is served from the same process; no origin restriction.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsObserver adapts one websocket connection to the broadcast.Observer
// interface. Broadcast deliveries and keepalive pings race on the same
// connection, and gorilla allows only one concurrent writer, so every write
// goes through the mutex.
type wsObserver struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *wsObserver) Deliver(ev broadcast.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteJSON(ev)
}

func (o *wsObserver) ping() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlTimeout))
}

// WsHandler upgrades the request and streams progress events until the
// client goes away. Incoming messages are read only to detect disconnects;
// their content is discarded.
func (s *ApiService) WsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	obs := &wsObserver{conn: ws}
	s.Broadcaster.Subscribe(obs)
	log.InfoContext(ctx, "websocket client connected", "remote_addr", r.RemoteAddr, "observers", s.Broadcaster.Count())

	// Announced to everyone, the new client included.
	s.Broadcaster.Publish(broadcast.NewEvent("websocket connection established", 0))

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for alive := true; alive; {
		select {
		case <-readerDone:
			alive = false
		case <-ticker.C:
			if err := obs.ping(); err != nil {
				alive = false
			}
		}
	}

	// Unsubscribe before announcing so the departed client is not delivered
	// its own disconnect notice.
	s.Broadcaster.Unsubscribe(obs)
	s.Broadcaster.Publish(broadcast.NewEvent("websocket connection closed", 0))
	log.InfoContext(ctx, "websocket client disconnected", "remote_addr", r.RemoteAddr, "observers", s.Broadcaster.Count())
}
