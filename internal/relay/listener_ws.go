package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"tty-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPongWait     = 60 * time.Second
	maxListenerMessage  = 4 << 10
)

// wsListener adapts a websocket connection to Listener. Writes are serialized
// and bounded by writeTimeout.
type wsListener struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (l *wsListener) Send(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// ListenerHandler serves the operator playback websocket.
//
// Protocol: the client sends {"type":"join-call","callId":"CA..."} and
// receives joined, then audio frames until call-ended. mute and unmute pause
// and resume forwarding. Leaving is implicit on close.
type ListenerHandler struct {
	Hub          *Hub
	WriteTimeout time.Duration
	PongWait     time.Duration

	// CheckOrigin defaults to allowing every origin; auth runs before upgrade.
	CheckOrigin func(*http.Request) bool
}

func (h ListenerHandler) Serve(c *gin.Context) {
	log := logger.FromGin(c)

	writeTimeout := h.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	pongWait := h.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	checkOrigin := h.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("listener upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxListenerMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	l := &wsListener{conn: conn, writeTimeout: writeTimeout}
	done := make(chan struct{})
	defer close(done)
	go keepAlive(conn, pongWait*9/10, writeTimeout, done)

	var current string
	defer func() {
		if current != "" {
			h.Hub.OnListenerDisconnect(current, l)
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("listener connection closed", "call_id", current, "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		req, err := decodeListenerRequest(data)
		if err != nil {
			_ = l.Send(Message{Type: TypeError, Message: err.Error()})
			continue
		}

		switch req.Type {
		case TypeJoinCall:
			if current != "" && current != req.CallID {
				h.Hub.OnListenerDisconnect(current, l)
				current = ""
			}
			if err := h.Hub.Join(req.CallID, l); err != nil {
				log.Info("listener join refused", "call_id", req.CallID, "err", err)
				continue
			}
			current = req.CallID
			log.Info("listener joined", "call_id", current)
		case TypeMute, TypeUnmute:
			muted := req.Type == TypeMute
			if err := h.Hub.SetMuted(current, l, muted); err != nil {
				_ = l.Send(Message{Type: TypeError, Message: err.Error()})
				continue
			}
			ack := TypeUnmuted
			if muted {
				ack = TypeMuted
			}
			_ = l.Send(Message{Type: ack, CallID: current})
		}
	}
}

// keepAlive pings until done. WriteControl is safe alongside WriteMessage.
func keepAlive(conn *websocket.Conn, interval, writeTimeout time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
