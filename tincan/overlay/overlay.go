/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package overlay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/frame"
	"github.com/ipop-project/tincan/tincan/link"
	"github.com/ipop-project/tincan/tincan/tap"
	"go.uber.org/multierr"
)

// Overlay types.
const (
	TypeVirtualNetwork = "VNET"
	TypeTunnel         = "TUNNEL"
)

// Overlay is the control surface of one overlay.
type Overlay interface {
	ID() string
	Type() string
	// Start opens the TAP device and starts the workers. The overlay stops
	// background work when ctx is done, but Shutdown must still be called.
	Start(ctx context.Context) error
	Shutdown() error

	// CreateLink creates a link session to a peer, or passes new remote
	// candidates to the existing session with the same link id.
	CreateLink(req LinkRequest) (*link.Session, error)
	RemoveLink(linkID string) error
	QueryLinkStats(ctx context.Context, linkID string) (LinkStats, error)
	QueryCandidates(linkID string) (CandidateInfo, error)
	UpdateRoute(dest, nextHop defn.MacAddress) error
	InjectFrame(b []byte) error
	SendIcc(linkID string, data []byte) error
	QueryInfo() Info
}

// Consecutive TAP read failures re-posted without delay.
const readRetries = 3

const (
	readBackoff    = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// Params are the collaborators of an overlay.
type Params struct {
	Config   *core.OverlayConfig
	Device   tap.Device
	Factory  link.TransportFactory
	Bridge   ControlBridge
	Identity *link.Identity
	// Scavenger and read retry clock, wall time if nil
	Clock clock.Clock
}

// LinkRequest describes the peer end of a link.
type LinkRequest struct {
	LinkId          string
	PeerUID         string
	PeerMac         defn.MacAddress
	PeerFingerprint string
	PeerCandidates  string
	// Role forces the local role. Empty means fingerprint tie-break.
	Role string
}

// LinkStats is the answer to a link stats query.
type LinkStats struct {
	LinkId string
	Status defn.LinkStatus
	Role   defn.Role
	Stats  []link.PairStats
}

// CandidateInfo is the answer to a candidate query.
type CandidateInfo struct {
	LinkId     string
	Role       defn.Role
	Candidates string
}

// Info describes an overlay.
type Info struct {
	OverlayId   string
	Type        string
	Fingerprint string
	TapName     string
	MAC         string
	IP4         string
	PrefixLen4  int
	MTU4        int
	LinkIds     []string
}

// New creates an overlay of the configured type.
func New(p Params) (Overlay, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("%w: overlay config missing", defn.ErrInvalid)
	}
	switch strings.ToUpper(p.Config.Type) {
	case TypeVirtualNetwork, "":
		return NewVirtualNetwork(p)
	case TypeTunnel:
		return NewTunnel(p)
	default:
		return nil, fmt.Errorf("%w: overlay type %q", defn.ErrInvalid, p.Config.Type)
	}
}

// dispatcher holds the frame routing of an overlay kind.
type dispatcher interface {
	// outbound routes a frame read from the TAP device. Called on the reader.
	outbound(f *frame.Frame)
	// inbound routes a frame received from a link. Called on the worker of l.
	inbound(l *link.PeerLink, s *link.Session, f *frame.Frame)
}

// engine is the part shared by all overlay kinds: device I/O, workers,
// link events and the link id index.
type engine struct {
	id       string
	kind     string
	cfg      *core.OverlayConfig
	dev      tap.Device
	factory  link.TransportFactory
	bridge   ControlBridge
	identity *link.Identity
	tcfg     link.TransportConfig
	d        dispatcher
	clock    clock.Clock

	signal  *link.SignalingWorker
	workers []*worker

	// serializes link creation and removal
	linkMu sync.Mutex

	mu    sync.Mutex
	byID  map[string]*link.PeerLink
	ready map[string]struct{}

	reads     atomic.Int32
	readFails atomic.Int32
	ioStarted atomic.Bool
	started   atomic.Bool
	closing   atomic.Bool
	cancel    context.CancelFunc
	bg        sync.WaitGroup
}

func newEngine(p Params, kind string) (*engine, error) {
	if p.Config == nil || p.Config.OverlayId == "" {
		return nil, fmt.Errorf("%w: overlay id missing", defn.ErrInvalid)
	}
	if p.Device == nil || p.Factory == nil || p.Bridge == nil {
		return nil, fmt.Errorf("%w: overlay %s is missing a collaborator", defn.ErrSetup, p.Config.OverlayId)
	}
	id := p.Identity
	if id == nil {
		var err error
		if id, err = link.NewIdentity(); err != nil {
			return nil, err
		}
	}

	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	threads := max(1, min(core.C.Overlay.Threads, core.MaxThreads))
	e := &engine{
		id:       p.Config.OverlayId,
		kind:     kind,
		cfg:      p.Config,
		dev:      p.Device,
		factory:  p.Factory,
		bridge:   p.Bridge,
		identity: id,
		tcfg:     link.TransportConfigFrom(core.C, p.Config),
		clock:    clk,
		signal:   link.NewSignalingWorker(p.Config.OverlayId, core.C.Overlay.QueueSize),
		workers:  make([]*worker, threads),
		byID:     make(map[string]*link.PeerLink),
		ready:    make(map[string]struct{}),
	}
	for i := range e.workers {
		e.workers[i] = newWorker(e.id, i, core.C.Overlay.QueueSize)
	}
	return e, nil
}

func (e *engine) String() string {
	return fmt.Sprintf("overlay (id=%s type=%s)", e.id, e.kind)
}

func (e *engine) ID() string {
	return e.id
}

func (e *engine) Type() string {
	return e.kind
}

// Fingerprint returns the fingerprint of the overlay identity.
func (e *engine) Fingerprint() string {
	return e.identity.Fingerprint()
}

func (e *engine) start(ctx context.Context) (context.Context, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s already started", defn.ErrSetup, e.id)
	}
	e.dev.SetCompletionHandler(e)
	err := e.dev.Open(tap.Descriptor{
		Name:       e.cfg.TapName,
		IP4:        e.cfg.IP4,
		PrefixLen4: e.cfg.PrefixLen4,
		MTU4:       e.cfg.MTU4,
	})
	if err != nil {
		e.started.Store(false)
		return nil, err
	}
	if err := e.dev.Up(); err != nil {
		e.dev.Close()
		e.started.Store(false)
		return nil, fmt.Errorf("%w: bring up %s: %v", defn.ErrSetup, e.cfg.TapName, err)
	}

	for _, w := range e.workers {
		go w.Run()
	}
	e.signal.Start()

	ctx, e.cancel = context.WithCancel(ctx)
	core.Log.Info(e, "Overlay started", "fpr", e.Fingerprint(), "tap", e.dev.Name(), "mac", e.dev.MacAddress())
	return ctx, nil
}

// shutdown stops I/O and workers. Links are disconnected by the caller.
func (e *engine) shutdown() error {
	if !e.started.Load() || !e.closing.CompareAndSwap(false, true) {
		return nil
	}
	core.Log.Info(e, "Shutting down overlay")

	e.cancel()
	e.bg.Wait()
	for _, w := range e.workers {
		w.TellToQuit()
	}
	for _, w := range e.workers {
		<-w.HasQuit
	}
	e.signal.Stop()

	err := multierr.Combine(e.dev.Down(), e.dev.Close())
	e.mu.Lock()
	clear(e.ready)
	e.mu.Unlock()
	forgetMetrics(e.id)
	return err
}

// startIo keeps concurrent_reads TAP reads outstanding from now on.
func (e *engine) startIo() {
	if !e.ioStarted.CompareAndSwap(false, true) {
		return
	}
	k := max(1, core.C.Overlay.ConcurrentReads)
	core.Log.Debug(e, "Starting TAP reads", "count", k)
	for range k {
		e.postRead(frame.New())
	}
}

func (e *engine) postRead(f *frame.Frame) {
	if e.closing.Load() {
		return
	}
	e.reads.Add(1)
	if err := e.dev.ReadAsync(f); err != nil {
		e.reads.Add(-1)
		if !e.closing.Load() {
			core.Log.Error(e, "A TAP read operation failed to start", "err", err)
		}
	}
}

// OutstandingReads returns the number of TAP reads in flight.
func (e *engine) OutstandingReads() int {
	return int(e.reads.Load())
}

// TapReadComplete implements tap.CompletionHandler.
func (e *engine) TapReadComplete(aio *tap.AsyncIo) {
	e.reads.Add(-1)
	if e.closing.Load() {
		return
	}
	if !aio.Good {
		e.retryRead(aio)
		return
	}
	e.readFails.Store(0)
	e.d.outbound(aio.Frame)
}

// retryRead re-posts a failed read, at once for the first few consecutive
// failures and after a growing delay from then on.
func (e *engine) retryRead(aio *tap.AsyncIo) {
	n := e.readFails.Add(1)
	if n <= readRetries {
		core.Log.Debug(e, "TAP read failed", "err", aio.Err)
		e.postRead(aio.Frame)
		return
	}
	if n == readRetries+1 {
		core.Log.Warn(e, "TAP reads keep failing, backing off", "err", aio.Err)
	}
	delay := min(readBackoff<<min(n-readRetries-1, 16), maxReadBackoff)
	f := aio.Frame
	e.clock.AfterFunc(delay, func() { e.postRead(f) })
}

// TapWriteComplete implements tap.CompletionHandler.
func (e *engine) TapWriteComplete(aio *tap.AsyncIo) {
	if !aio.Good {
		core.Log.Warn(e, "TAP write failed", "err", aio.Err)
		metricDropped.WithLabelValues(e.id, "tap-write").Inc()
	}
}

// transmit sends a tagged frame to l on its worker. A read is re-posted
// with the frame afterwards when repost is set, including when the task
// could not be queued.
func (e *engine) transmit(l *link.PeerLink, f *frame.Frame, repost bool) {
	task := func() {
		kind := f.Kind()
		if err := l.Transmit(f.Wire()); err != nil {
			core.Log.Debug(e, "Transmit failed", "peer", l.Mac(), "kind", kind, "err", err)
			metricDropped.WithLabelValues(e.id, "transmit").Inc()
		} else {
			metricFramesOut.WithLabelValues(e.id, kind.String()).Inc()
		}
		if repost {
			e.postRead(f)
		}
	}
	if !workerFor(e.workers, l.Mac()).Queue(task) && repost {
		e.postRead(f)
	}
}

// escalate sends a frame without a route to the controller.
func (e *engine) escalate(f *frame.Frame) {
	core.Log.Trace(e, "No route, escalating to controller", "dest", f.DestinationMac(), "frame", f.Describe())
	metricUnresolved.WithLabelValues(e.id).Inc()
	e.bridge.Deliver(UnresolvedDestination{
		OverlayId: e.id,
		TapName:   e.cfg.TapName,
		Frame:     append([]byte(nil), f.Payload()...),
	})
}

// writeTap hands a received frame payload to the TAP device.
func (e *engine) writeTap(f *frame.Frame) {
	if err := e.dev.WriteAsync(f); err != nil {
		core.Log.Warn(e, "TAP write failed to start", "err", err)
		metricDropped.WithLabelValues(e.id, "tap-write").Inc()
	}
}

func (e *engine) deliverIcc(l *link.PeerLink, s *link.Session, f *frame.Frame) {
	e.bridge.Deliver(InterControllerMessage{
		OverlayId: e.id,
		LinkId:    s.ID(),
		PeerMac:   l.Mac(),
		Data:      append([]byte(nil), f.Payload()...),
	})
}

func (e *engine) lookup(linkID string) *link.PeerLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.byID[linkID]
}

func (e *engine) mapLink(linkID string, l *link.PeerLink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byID[linkID] = l
}

// unmapLink drops every link id of l and returns them.
func (e *engine) unmapLink(l *link.PeerLink) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id, cur := range e.byID {
		if cur == l {
			ids = append(ids, id)
			delete(e.byID, id)
			delete(e.ready, id)
		}
	}
	metricLinksUp.WithLabelValues(e.id).Set(float64(len(e.ready)))
	return ids
}

func (e *engine) linkIds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.byID))
	for id := range e.byID {
		ids = append(ids, id)
	}
	return ids
}

func (e *engine) setReady(linkID string, up bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if up {
		e.ready[linkID] = struct{}{}
	} else {
		delete(e.ready, linkID)
	}
	metricLinksUp.WithLabelValues(e.id).Set(float64(len(e.ready)))
}

// newSession creates and initializes a session for req.
func (e *engine) newSession(req LinkRequest) (*link.Session, error) {
	if req.LinkId == "" {
		return nil, fmt.Errorf("%w: link id missing", defn.ErrInvalid)
	}
	role := defn.TieBreakRole(e.Fingerprint(), req.PeerFingerprint)
	if req.Role != "" {
		var err error
		if role, err = defn.ParseRole(req.Role); err != nil {
			return nil, err
		}
	}

	s := link.NewSession(link.Descriptor{
		ID:              req.LinkId,
		PeerUID:         req.PeerUID,
		PeerMac:         req.PeerMac,
		PeerFingerprint: req.PeerFingerprint,
		PeerCandidates:  req.PeerCandidates,
	}, e.factory, e.signal)
	if err := s.Initialize(e.tcfg, e.identity, role); err != nil {
		return nil, err
	}
	core.Log.Info(e, "Created link session", "link", req.LinkId, "peer", req.PeerUID, "role", role)
	return s, nil
}

// updateSession passes new candidates to an existing session.
func (e *engine) updateSession(s *link.Session, req LinkRequest) *link.Session {
	s.AcceptRemoteCandidates(req.PeerCandidates)
	s.StartConnections()
	core.Log.Info(e, "Added remote candidates to link", "link", s.ID(), "peer", req.PeerUID)
	return s
}

func (e *engine) linkStats(ctx context.Context, linkID string) (LinkStats, error) {
	ret := LinkStats{LinkId: linkID, Status: defn.StatusUnknown, Stats: []link.PairStats{}}
	l := e.lookup(linkID)
	if l == nil {
		return ret, nil
	}
	s := l.SessionByID(linkID)
	if s == nil || !s.IsReady() {
		ret.Status = defn.StatusOffline
		return ret, nil
	}

	stats := make(chan []link.PairStats, 1)
	if !workerFor(e.workers, l.Mac()).Queue(func() { stats <- s.Stats() }) {
		return ret, fmt.Errorf("%w: overlay %s is not running", defn.ErrNotReady, e.id)
	}
	select {
	case st := <-stats:
		ret.Status = defn.StatusOnline
		ret.Role = s.Role()
		ret.Stats = st
		return ret, nil
	case <-ctx.Done():
		return ret, ctx.Err()
	}
}

func (e *engine) candidates(linkID string) (CandidateInfo, error) {
	l := e.lookup(linkID)
	var s *link.Session
	if l != nil {
		s = l.SessionByID(linkID)
	}
	if s == nil {
		return CandidateInfo{}, fmt.Errorf("%w: link %s", defn.ErrNotFound, linkID)
	}
	return CandidateInfo{LinkId: linkID, Role: s.Role(), Candidates: s.LocalCandidates()}, nil
}

// InjectFrame writes a raw Ethernet frame to the TAP device.
func (e *engine) InjectFrame(b []byte) error {
	f := frame.New()
	if err := f.SetPayload(b); err != nil {
		return err
	}
	if e.closing.Load() || !e.started.Load() {
		return fmt.Errorf("%w: overlay %s is not running", defn.ErrNotReady, e.id)
	}
	if err := e.dev.WriteAsync(f); err != nil {
		return err
	}
	core.Log.Trace(e, "Injected frame", "len", len(b))
	return nil
}

// SendIcc sends an inter-controller message over a link.
func (e *engine) SendIcc(linkID string, data []byte) error {
	l := e.lookup(linkID)
	if l == nil {
		return fmt.Errorf("%w: link %s", defn.ErrNotFound, linkID)
	}
	f := frame.New()
	if err := f.SetPayload(data); err != nil {
		return err
	}
	f.SetTag(frame.TagIcc)
	e.transmit(l, f, false)
	return nil
}

func (e *engine) QueryLinkStats(ctx context.Context, linkID string) (LinkStats, error) {
	return e.linkStats(ctx, linkID)
}

func (e *engine) QueryCandidates(linkID string) (CandidateInfo, error) {
	return e.candidates(linkID)
}

func (e *engine) QueryInfo() Info {
	var mac string
	if e.started.Load() {
		mac = e.dev.MacAddress().Hex()
	}
	return Info{
		OverlayId:   e.id,
		Type:        e.kind,
		Fingerprint: e.Fingerprint(),
		TapName:     e.cfg.TapName,
		MAC:         mac,
		IP4:         e.cfg.IP4,
		PrefixLen4:  e.cfg.PrefixLen4,
		MTU4:        e.cfg.MTU4,
		LinkIds:     e.linkIds(),
	}
}

// OnLinkReady implements link.PeerLinkHandler.
func (e *engine) OnLinkReady(l *link.PeerLink, s *link.Session) {
	e.setReady(s.ID(), true)
	e.startIo()
	e.bridge.Deliver(LinkStateChanged{OverlayId: e.id, LinkId: s.ID(), PeerMac: l.Mac(), State: LinkStateUp})
}

// OnLinkBroken implements link.PeerLinkHandler.
func (e *engine) OnLinkBroken(l *link.PeerLink, s *link.Session) {
	e.setReady(s.ID(), false)
	dispose := func() {
		if err := s.Disconnect(); err != nil {
			core.Log.Debug(e, "Disconnect of broken session failed", "link", s.ID(), "err", err)
		}
	}
	if !workerFor(e.workers, l.Mac()).Queue(dispose) {
		go dispose()
	}
	e.bridge.Deliver(LinkStateChanged{OverlayId: e.id, LinkId: s.ID(), PeerMac: l.Mac(), State: LinkStateDown})
}

// OnLocalCandidatesReady implements link.PeerLinkHandler.
func (e *engine) OnLocalCandidatesReady(l *link.PeerLink, s *link.Session, cas string) {
	e.bridge.Deliver(LocalCandidatesReady{OverlayId: e.id, LinkId: s.ID(), Candidates: cas})
}

// OnLinkMessage implements link.PeerLinkHandler.
func (e *engine) OnLinkMessage(l *link.PeerLink, s *link.Session, b []byte) {
	f, err := frame.Decode(b)
	if err != nil {
		core.Log.Warn(e, "Dropped malformed frame", "link", s.ID(), "err", err)
		metricDropped.WithLabelValues(e.id, "decode").Inc()
		return
	}
	metricFramesIn.WithLabelValues(e.id, f.Kind().String()).Inc()
	workerFor(e.workers, l.Mac()).Queue(func() { e.d.inbound(l, s, f) })
}
