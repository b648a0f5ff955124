// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dispatch-core/models"
)

// TokenValidator binds a presented bearer token to a principal.
type TokenValidator interface {
	Validate(token string) (models.Principal, error)
}

// HubConfig tunes the live-connection hub.
type HubConfig struct {
	// PingInterval is the liveness probe period; a connection missing two
	// consecutive probes is terminated.
	PingInterval time.Duration
	// SendBuffer is the per-connection frame buffer; full buffers drop.
	SendBuffer int
	// AuthTimeout bounds the wait for the authenticate frame.
	AuthTimeout time.Duration
	// AllowedOrigins restricts the websocket handshake; empty allows all.
	AllowedOrigins []string
}

const maxMissedProbes = 2

// Hub owns the websocket endpoint: it authenticates connections via the first
// frame, binds them to the Bus and runs their read/write pumps.
type Hub struct {
	bus       *Bus
	validator TokenValidator
	upgrader  websocket.Upgrader
	cfg       HubConfig
	logger    *zap.Logger

	mu     sync.Mutex
	conns  map[*liveConn]struct{}
	closed bool
}

// NewHub creates the websocket hub. Zero config fields get safe defaults.
func NewHub(bus *Bus, validator TokenValidator, cfg HubConfig, logger *zap.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	return &Hub{
		bus:       bus,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
		conns:     make(map[*liveConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.AllowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// liveConn is one websocket connection bound to a user.
type liveConn struct {
	userID string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	missed atomic.Int32
	once   sync.Once
}

func (c *liveConn) UserID() string { return c.userID }

// Enqueue never blocks; frames beyond the buffer are dropped.
func (c *liveConn) Enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *liveConn) terminate() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// authFrame is the only client-to-server message type.
type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// HandleConnection upgrades the request and runs the connection lifecycle.
// The first client frame must be {type:"authenticate", token}; anything else
// closes the socket.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	principal, err := h.authenticate(ws)
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	conn := &liveConn{
		userID: principal.UserID,
		ws:     ws,
		send:   make(chan []byte, h.cfg.SendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	h.bus.Attach(conn)

	h.logger.Info("Live connection established", zap.String("user", conn.userID))

	ack, _ := json.Marshal(map[string]string{"type": "authenticated", "userId": conn.userID})
	conn.Enqueue(ack)

	go h.writePump(conn)
	h.readPump(conn)

	h.bus.Detach(conn)
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.terminate()
	h.logger.Info("Live connection closed", zap.String("user", conn.userID))
}

// authenticate waits for the authenticate frame and validates its token.
func (h *Hub) authenticate(ws *websocket.Conn) (models.Principal, error) {
	ws.SetReadLimit(4096)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout)); err != nil {
		return models.Principal{}, err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return models.Principal{}, err
	}

	var frame authFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "authenticate" {
		return models.Principal{}, errBadAuthFrame
	}
	return h.validator.Validate(frame.Token)
}

// readPump consumes client frames. After authentication the client only
// sends pongs; text frames are ignored. Pongs reset the probe counter.
func (h *Hub) readPump(conn *liveConn) {
	readWindow := 2*h.cfg.PingInterval + h.cfg.PingInterval/2
	_ = conn.ws.SetReadDeadline(time.Now().Add(readWindow))
	conn.ws.SetPongHandler(func(string) error {
		conn.missed.Store(0)
		return conn.ws.SetReadDeadline(time.Now().Add(readWindow))
	})

	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump serializes outbound frames and drives liveness probes.
func (h *Hub) writePump(conn *liveConn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.terminate()
	}()

	for {
		select {
		case frame := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if conn.missed.Add(1) > maxMissedProbes {
				h.logger.Info("Terminating unresponsive live connection",
					zap.String("user", conn.userID))
				return
			}
			_ = conn.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-conn.done:
			return
		}
	}
}

// Close terminates every live connection; used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*liveConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.terminate()
	}
}

var errBadAuthFrame = &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "expected authenticate frame"}
