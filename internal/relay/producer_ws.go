package relay

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"tty-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	maxProducerMessage = 64 << 10
	producerIdle       = 30 * time.Second
)

// mediaStreamEvent is one Twilio Media Streams message.
// Ref: https://www.twilio.com/docs/voice/media-streams/websocket-messages
type mediaStreamEvent struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Start     *mediaStart `json:"start,omitempty"`
	Media     *mediaChunk `json:"media,omitempty"`
}

type mediaStart struct {
	CallSid   string `json:"callSid"`
	StreamSid string `json:"streamSid"`
}

type mediaChunk struct {
	Track   string `json:"track"`
	Payload string `json:"payload"`
}

// ProducerHandler accepts the control plane's media stream for a call and
// feeds each inbound audio chunk to the hub. One producer per active call id;
// a stream that starts for an unknown or ended call is closed.
type ProducerHandler struct {
	Hub *Hub

	// IdleTimeout closes a stream that stops sending.
	IdleTimeout time.Duration
}

func (h ProducerHandler) Serve(c *gin.Context) {
	log := logger.FromGin(c)

	idle := h.IdleTimeout
	if idle <= 0 {
		idle = producerIdle
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media stream upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxProducerMessage)

	var (
		callID  string
		release func()
		frames  int
	)
	defer func() {
		if release != nil {
			release()
		}
		if callID != "" {
			log.Info("media stream closed", "call_id", callID, "frames", frames)
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("media stream read failed", "call_id", callID, "err", err)
			}
			return
		}

		var ev mediaStreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn("media stream message malformed", "call_id", callID, "err", err)
			continue
		}

		switch ev.Event {
		case "connected", "mark":
		case "start":
			if callID != "" {
				continue
			}
			if ev.Start == nil || ev.Start.CallSid == "" {
				log.Warn("media stream start without callSid")
				return
			}
			rel, err := h.Hub.AttachProducer(ev.Start.CallSid)
			if err != nil {
				log.Warn("media stream rejected", "call_id", ev.Start.CallSid, "err", err)
				return
			}
			callID, release = ev.Start.CallSid, rel
			log.Info("media stream started", "call_id", callID, "stream_sid", ev.StreamSid)
		case "media":
			if callID == "" || ev.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				continue
			}
			frames++
			h.Hub.OnProducerFrame(callID, payload)
		case "stop":
			return
		}
	}
}
