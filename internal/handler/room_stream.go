package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"planning-poker/internal/domain"
	"planning-poker/internal/service"
	"planning-poker/internal/validation"
	apperrors "planning-poker/pkg/errors"
	"planning-poker/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Inbound frames are only heartbeats
	maxMessageSize = 512
	// DefaultStreamPollInterval matches the browser polling cadence
	DefaultStreamPollInterval = 1500 * time.Millisecond
	// Bounds the service call made for each poll or heartbeat
	streamCallTimeout = 5 * time.Second
)

// RoomStream pushes room snapshots over a websocket as they change
type RoomStream struct {
	rooms        service.RoomService
	upgrader     websocket.Upgrader
	pollInterval time.Duration
	logger       *logger.Logger
}

// NewRoomStream creates a room stream. An empty allowedOrigins or a "*" entry
// accepts any origin.
func NewRoomStream(rooms service.RoomService, allowedOrigins []string, pollInterval time.Duration, logger *logger.Logger) *RoomStream {
	if pollInterval <= 0 {
		pollInterval = DefaultStreamPollInterval
	}
	return &RoomStream{
		rooms:        rooms,
		pollInterval: pollInterval,
		logger:       logger.Named("room_stream"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// streamClient is one websocket subscriber of one room
type streamClient struct {
	stream *RoomStream
	conn   *websocket.Conn
	code   string
	pid    string
	log    *logger.Logger
	done   chan struct{}
}

// Serve handles GET /api/room/{code}/ws?pid=
func (s *RoomStream) Serve(w http.ResponseWriter, r *http.Request) {
	code, err := validation.RoomCode(chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, r, err, s.logger)
		return
	}

	// Refuse the upgrade for rooms that do not exist so clients get a plain 404
	if _, err := s.rooms.GetRoom(r.Context(), code); err != nil {
		respondError(w, r, err, s.logger)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).WithField("room_code", code).Debug("Websocket upgrade failed")
		return
	}

	c := &streamClient{
		stream: s,
		conn:   conn,
		code:   code,
		pid:    r.URL.Query().Get("pid"),
		log:    s.logger.ForRoom("stream", code, r.URL.Query().Get("pid")),
		done:   make(chan struct{}),
	}
	c.log.Debug("Stream opened")

	go c.readPump()
	c.writePump()
}

// readPump treats every inbound frame as a heartbeat and closes done on exit
func (c *streamClient) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Stream read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.heartbeat()
	}
}

func (c *streamClient) heartbeat() {
	if c.pid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), streamCallTimeout)
	defer cancel()
	if err := c.stream.rooms.Heartbeat(ctx, c.code, c.pid); err != nil {
		c.log.WithError(err).Debug("Stream heartbeat ignored")
	}
}

// writePump polls the room and writes a snapshot whenever it changes
func (c *streamClient) writePump() {
	poll := time.NewTicker(c.stream.pollInterval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		poll.Stop()
		ping.Stop()
		c.conn.Close()
		c.log.Debug("Stream closed")
	}()

	var last []byte
	push := func() bool {
		payload, ended, err := c.snapshot()
		if ended {
			c.close(websocket.CloseNormalClosure, "Room ended")
			return false
		}
		if err != nil {
			// transient store trouble; try again next tick
			c.log.WithError(err).Debug("Stream poll failed")
			return true
		}
		if bytes.Equal(payload, last) {
			return true
		}
		last = payload
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.log.WithError(err).Debug("Stream write failed")
			return false
		}
		return true
	}

	if !push() {
		return
	}
	for {
		select {
		case <-c.done:
			return
		case <-poll.C:
			if !push() {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) snapshot() ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), streamCallTimeout)
	defer cancel()

	room, err := c.stream.rooms.GetRoom(ctx, c.code)
	if err != nil {
		return nil, apperrors.IsType(err, apperrors.ErrorTypeNotFound), err
	}
	payload, err := json.Marshal(domain.NewSnapshot(room))
	return payload, false, err
}

func (c *streamClient) close(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
