/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/overlay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ControlPath is the websocket endpoint of the controller.
const ControlPath = "/control"

// MetricsPath serves the overlay metrics when enabled.
const MetricsPath = "/metrics"

// Daemon owns the overlays controlled through the server.
type Daemon interface {
	CreateOverlay(cfg core.OverlayConfig) (overlay.Overlay, error)
	RemoveOverlay(id string) error
	Overlay(id string) (overlay.Overlay, error)
}

// ServerConfig contains Server configuration.
type ServerConfig struct {
	Bind    string
	Port    uint16
	Metrics bool
	// Size of the outgoing queue of the controller connection
	QueueSize int
	// Bound on a QueryLinkStats round trip
	StatsTimeout time.Duration
}

// Addr returns the listen address.
func (cfg ServerConfig) Addr() string {
	return net.JoinHostPort(cfg.Bind, strconv.FormatUint(uint64(cfg.Port), 10))
}

// Server is the control channel of the daemon. It serves the controller
// websocket and implements overlay.ControlBridge for notifications.
type Server struct {
	cfg      ServerConfig
	daemon   Daemon
	server   http.Server
	upgrader websocket.Upgrader
	handlers map[string]handler

	mu      sync.Mutex
	ctl     *controller
	pending []*pendingLink
}

// pendingLink is a CreateLink waiting for local candidates.
type pendingLink struct {
	ctl     *controller
	req     *Control
	overlay overlay.Overlay
}

// NewServer creates a control server for daemon.
func NewServer(cfg ServerConfig, daemon Daemon) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.StatsTimeout <= 0 {
		cfg.StatsTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		daemon: daemon,
		upgrader: websocket.Upgrader{
			WriteBufferPool: &sync.Pool{},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.registerHandlers()
	s.server = http.Server{Addr: cfg.Addr(), Handler: s.Handler()}
	return s
}

func (s *Server) String() string {
	return fmt.Sprintf("mgmt-server (addr=%s)", s.cfg.Addr())
}

// Handler returns the HTTP handler of the control and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ControlPath, s.serveControl)
	if s.cfg.Metrics {
		mux.Handle(MetricsPath, promhttp.HandlerFor(overlay.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves until Close is called.
func (s *Server) Run() error {
	core.Log.Info(s, "Starting control server", "metrics", s.cfg.Metrics)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the listener and drops the controller connection.
func (s *Server) Close() error {
	core.Log.Info(s, "Stopping control server")
	s.mu.Lock()
	ctl := s.ctl
	s.ctl = nil
	s.pending = nil
	s.mu.Unlock()
	if ctl != nil {
		ctl.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) serveControl(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ctl := newController(conn, s.cfg.QueueSize)
	core.Log.Info(s, "Accepted controller", "remote", conn.RemoteAddr())

	// a new controller replaces the previous one
	s.mu.Lock()
	prev := s.ctl
	s.ctl = ctl
	s.mu.Unlock()
	if prev != nil {
		core.Log.Warn(s, "Replacing controller connection", "remote", prev)
		prev.Close()
	}

	go ctl.runSend()
	s.runReceive(ctl)

	s.mu.Lock()
	if s.ctl == ctl {
		s.ctl = nil
	}
	s.mu.Unlock()
	ctl.Close()
}

func (s *Server) runReceive(ctl *controller) {
	for {
		mt, message, err := ctl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				core.Log.Info(s, "Controller disconnected unexpectedly", "err", err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		c := &Control{}
		if err := json.Unmarshal(message, c); err != nil {
			core.Log.Warn(s, "Dropped malformed control message", "err", err)
			continue
		}
		switch c.ControlType {
		case TypeRequest:
			if resp := s.dispatch(ctl, c); resp != nil {
				ctl.Send(resp)
			}
		case TypeResponse:
			core.Log.Trace(s, "Controller acknowledged", "txn", c.TransactionId)
		default:
			core.Log.Warn(s, "Unrecognized control type received and discarded", "type", c.ControlType)
		}
	}
}

// Deliver implements overlay.ControlBridge. It never blocks.
func (s *Server) Deliver(ev overlay.Event) {
	switch e := ev.(type) {
	case overlay.LocalCandidatesReady:
		s.completeLink(e.OverlayId, e.LinkId, e.Candidates)
		return
	case overlay.LinkStateChanged:
		if e.State == overlay.LinkStateDown {
			s.failLink(e.OverlayId, e.LinkId)
		}
	}

	req := notification(ev)
	if req == nil {
		return
	}
	s.mu.Lock()
	ctl := s.ctl
	s.mu.Unlock()
	if ctl == nil {
		core.Log.Debug(s, "No controller connected, notification dropped", "cmd", req.Command)
		return
	}
	ctl.Send(newRequest(uuid.NewString(), req))
}

// addPending registers a CreateLink awaiting candidates.
func (s *Server) addPending(p *pendingLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, p)
}

// takePending removes and returns every CreateLink waiting on a link.
func (s *Server) takePending(overlayID, linkID string) []*pendingLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	var taken []*pendingLink
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.req.Request.OverlayId == overlayID && p.req.Request.LinkId == linkID {
			taken = append(taken, p)
		} else {
			kept = append(kept, p)
		}
	}
	clear(s.pending[len(kept):])
	s.pending = kept
	return taken
}

// dropPending removes p. It reports false if p was already answered.
func (s *Server) dropPending(p *pendingLink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.pending {
		if q == p {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// completeLink answers the CreateLink requests of a link.
func (s *Server) completeLink(overlayID, linkID, cas string) {
	pending := s.takePending(overlayID, linkID)
	if len(pending) == 0 {
		core.Log.Debug(s, "Local candidates without pending request", "overlay", overlayID, "link", linkID)
		return
	}
	if cas == "" {
		core.Log.Warn(s, "No local candidates available on link", "overlay", overlayID, "link", linkID)
	}
	for _, p := range pending {
		info := p.overlay.QueryInfo()
		p.ctl.Send(p.req.respond(true, LinkResult{
			OverlayId:   overlayID,
			LinkId:      linkID,
			MAC:         info.MAC,
			Fingerprint: info.Fingerprint,
			CAS:         cas,
		}))
	}
}

// failLink answers the CreateLink requests of a link that broke before
// its candidates were known.
func (s *Server) failLink(overlayID, linkID string) {
	for _, p := range s.takePending(overlayID, linkID) {
		core.Log.Warn(s, "Link failed before candidates were ready", "overlay", overlayID, "link", linkID)
		p.ctl.Send(p.req.respond(false, fmt.Sprintf(
			"The CreateLink operation failed: %v: link %s went down during setup", defn.ErrSetup, linkID)))
	}
}

// controller is the connection to the controller. Writes are queued and
// performed by runSend.
type controller struct {
	conn *websocket.Conn
	out  chan *Control
	done chan struct{}
	once sync.Once
}

func newController(conn *websocket.Conn, queueSize int) *controller {
	return &controller{
		conn: conn,
		out:  make(chan *Control, queueSize),
		done: make(chan struct{}),
	}
}

func (c *controller) String() string {
	return fmt.Sprintf("controller (remote=%s)", c.conn.RemoteAddr())
}

// Send queues a message. It drops the message if the queue is full.
func (c *controller) Send(msg *Control) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- msg:
	default:
		core.Log.Warn(c, "Control message dropped due to full queue", "txn", msg.TransactionId)
	}
}

func (c *controller) runSend() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			b, err := json.Marshal(msg)
			if err != nil {
				core.Log.Error(c, "Unable to encode control message", "err", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				core.Log.Warn(c, "Unable to send on control channel", "err", err)
				c.Close()
				return
			}
		}
	}
}

// Close closes the connection. Queued messages are dropped.
func (c *controller) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
