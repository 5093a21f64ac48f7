package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"guardianpath/internal/metrics"
	"guardianpath/internal/model"
)

const (
	streamSendBuffer = 64
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingEvery  = 30 * time.Second
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// streamMessage is one frame on /alerts/stream: either a new alert or the
// current unread count.
type streamMessage struct {
	Type   string       `json:"type"`
	Alert  *model.Alert `json:"alert,omitempty"`
	Unread *int         `json:"unread,omitempty"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// set once, before done closes
	closeCode int
	closeText string
}

// enqueue never blocks the processor's delivery path. A client that cannot
// keep up is disconnected.
func (c *streamClient) enqueue(msg streamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.stopWith(websocket.ClosePolicyViolation, "slow consumer")
	}
}

func (c *streamClient) stop() {
	c.stopWith(websocket.CloseNormalClosure, "")
}

// stopWith records the close frame for writePump. Only the first call wins.
func (c *streamClient) stopWith(code int, text string) {
	c.once.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}
	c := &streamClient{
		conn: conn,
		send: make(chan []byte, streamSendBuffer),
		done: make(chan struct{}),
	}
	alertSub := s.alerts.Subscribe(func(a model.Alert) {
		c.enqueue(streamMessage{Type: "alert", Alert: &a})
	})
	// the first frame carries the current count
	unreadSub := s.alerts.WatchUnread(func(n int) {
		c.enqueue(streamMessage{Type: "unread", Unread: &n})
	})
	metrics.StreamClients.Inc()
	if s.logger != nil {
		s.logger.Debug("stream client connected", "remote", r.RemoteAddr)
	}

	go s.writePump(c)
	s.readPump(c)

	alertSub.Close()
	unreadSub.Close()
	c.stop()
	metrics.StreamClients.Dec()
	if s.logger != nil {
		s.logger.Debug("stream client disconnected", "remote", r.RemoteAddr)
	}
}

// readPump only watches for close frames and pongs.
func (s *Server) readPump(c *streamClient) {
	defer c.conn.Close()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) && s.logger != nil {
				s.logger.Debug("websocket read error", "err", err)
			}
			return
		}
	}
}

func (s *Server) writePump(c *streamClient) {
	ticker := time.NewTicker(streamPingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}
