package mgmt

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/link/linktest"
	"github.com/ipop-project/tincan/tincan/overlay"
	"github.com/ipop-project/tincan/tincan/tap/taptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDaemon creates overlays on in-memory devices and transports.
type testDaemon struct {
	net    *linktest.Network
	bridge overlay.ControlBridge

	mu       sync.Mutex
	devs     map[string]*taptest.Device
	overlays map[string]overlay.Overlay
}

func (d *testDaemon) CreateOverlay(cfg core.OverlayConfig) (overlay.Overlay, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := taptest.NewDevice(defn.MacAddress{0x02, 0, 0, 0, 0, byte(len(d.devs) + 1)})
	ov, err := overlay.New(overlay.Params{Config: &cfg, Device: dev, Factory: d.net, Bridge: d.bridge})
	if err != nil {
		return nil, err
	}
	if err := ov.Start(context.Background()); err != nil {
		return nil, err
	}
	d.devs[cfg.OverlayId] = dev
	d.overlays[cfg.OverlayId] = ov
	return ov, nil
}

func (d *testDaemon) RemoveOverlay(id string) error {
	d.mu.Lock()
	ov, ok := d.overlays[id]
	delete(d.overlays, id)
	d.mu.Unlock()
	if !ok {
		return defn.ErrNotFound
	}
	return ov.Shutdown()
}

func (d *testDaemon) Overlay(id string) (overlay.Overlay, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ov, ok := d.overlays[id]; ok {
		return ov, nil
	}
	return nil, defn.ErrNotFound
}

func (d *testDaemon) device(id string) *taptest.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devs[id]
}

type harness struct {
	t      *testing.T
	srv    *Server
	daemon *testDaemon
	http   *httptest.Server
	conn   *websocket.Conn
	txn    int
}

func newHarness(t *testing.T) *harness {
	d := &testDaemon{
		net:      linktest.NewNetwork(),
		devs:     make(map[string]*taptest.Device),
		overlays: make(map[string]overlay.Overlay),
	}
	srv := NewServer(ServerConfig{Bind: "127.0.0.1", Metrics: true}, d)
	d.bridge = srv

	h := &harness{t: t, srv: srv, daemon: d, http: httptest.NewServer(srv.Handler())}
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + ControlPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	h.conn = conn

	t.Cleanup(func() {
		conn.Close()
		h.http.Close()
		for id := range d.overlays {
			d.RemoveOverlay(id)
		}
	})
	return h
}

func (h *harness) send(req *Request) string {
	h.txn++
	c := &Control{
		ProtocolVersion: ProtocolVersion,
		ControlType:     TypeRequest,
		TransactionId:   strings.Repeat("t", h.txn),
		Request:         req,
	}
	require.NoError(h.t, h.conn.WriteJSON(c))
	return c.TransactionId
}

func (h *harness) recv() *Control {
	require.NoError(h.t, h.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	c := &Control{}
	require.NoError(h.t, h.conn.ReadJSON(c))
	return c
}

// call sends a request and waits for its response.
func (h *harness) call(req *Request) *Response {
	txn := h.send(req)
	c := h.recv()
	require.Equal(h.t, TypeResponse, c.ControlType)
	require.Equal(h.t, txn, c.TransactionId)
	require.NotNil(h.t, c.Response)
	return c.Response
}

func field(t *testing.T, msg any, key string) any {
	m, ok := msg.(map[string]any)
	require.True(t, ok, "message %v is not an object", msg)
	return m[key]
}

func TestEcho(t *testing.T) {
	h := newHarness(t)
	resp := h.call(&Request{Command: CmdEcho, Message: "ping"})
	assert.True(t, resp.Success)
	assert.Equal(t, "ping", resp.Message)

	resp = h.call(&Request{Command: "CreateCtrlRespLink"})
	assert.False(t, resp.Success)
}

func TestConfigureLogging(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.call(&Request{Command: CmdConfigureLogging, Level: "DEBUG"}).Success)
	assert.False(t, h.call(&Request{Command: CmdConfigureLogging, Level: "LOUD"}).Success)
	require.NoError(t, core.SetLogLevel(core.C.Core.LogLevel))
}

func TestOverlayLifecycle(t *testing.T) {
	h := newHarness(t)

	resp := h.call(&Request{Command: CmdCreateOverlay, OverlayId: "ov1", Type: "VNET", TapName: "ipop-ov1"})
	require.True(t, resp.Success, "%v", resp.Message)
	assert.Equal(t, "ov1", field(t, resp.Message, "OverlayId"))
	assert.Equal(t, "ipop-ov1", field(t, resp.Message, "TapName"))

	resp = h.call(&Request{Command: CmdQueryOverlayInfo, OverlayId: "ov1"})
	require.True(t, resp.Success)
	assert.Equal(t, "VNET", field(t, resp.Message, "Type"))
	assert.NotEmpty(t, field(t, resp.Message, "Fingerprint"))

	assert.True(t, h.call(&Request{Command: CmdRemoveOverlay, OverlayId: "ov1"}).Success)
	assert.False(t, h.call(&Request{Command: CmdQueryOverlayInfo, OverlayId: "ov1"}).Success)
	assert.False(t, h.call(&Request{Command: CmdRemoveOverlay, OverlayId: "ov1"}).Success)
	assert.False(t, h.call(&Request{Command: CmdQueryOverlayInfo}).Success)
}

func TestCreateLink(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.call(&Request{Command: CmdCreateOverlay, OverlayId: "ov2"}).Success)

	peer := &PeerInfo{UID: "peer-uid", MAC: "020000000009", Fingerprint: "ff"}
	resp := h.call(&Request{Command: CmdCreateLink, OverlayId: "ov2", LinkId: "l1", PeerInfo: peer})
	require.True(t, resp.Success, "%v", resp.Message)
	assert.Equal(t, "l1", field(t, resp.Message, "LinkId"))
	cas := field(t, resp.Message, "CAS")
	assert.NotEmpty(t, cas)

	// candidates of an existing link are returned at once
	resp = h.call(&Request{Command: CmdCreateLink, OverlayId: "ov2", LinkId: "l1", PeerInfo: peer})
	require.True(t, resp.Success)
	assert.Equal(t, cas, field(t, resp.Message, "CAS"))

	resp = h.call(&Request{Command: CmdQueryCandidateAddressSet, OverlayId: "ov2", LinkId: "l1"})
	require.True(t, resp.Success)
	assert.Equal(t, cas, field(t, resp.Message, "CAS"))

	resp = h.call(&Request{Command: CmdQueryLinkStats, OverlayId: "ov2", LinkId: "l1"})
	require.True(t, resp.Success)
	assert.Equal(t, "offline", field(t, resp.Message, "Status"))

	resp = h.call(&Request{Command: CmdQueryLinkStats, OverlayId: "ov2", LinkId: "l9"})
	require.True(t, resp.Success)
	assert.Equal(t, "unknown", field(t, resp.Message, "Status"))

	assert.False(t, h.call(&Request{Command: CmdCreateLink, OverlayId: "ov2", LinkId: "l2",
		PeerInfo: &PeerInfo{MAC: "not-a-mac"}}).Success)
	assert.False(t, h.call(&Request{Command: CmdCreateLink, OverlayId: "nope", LinkId: "l2", PeerInfo: peer}).Success)

	assert.True(t, h.call(&Request{Command: CmdRemoveLink, OverlayId: "ov2", LinkId: "l1"}).Success)
	assert.False(t, h.call(&Request{Command: CmdRemoveLink, OverlayId: "ov2", LinkId: "l1"}).Success)
}

func TestCreateLinkWaiting(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.call(&Request{Command: CmdCreateOverlay, OverlayId: "ov6"}).Success)

	release := h.daemon.net.HoldGather()
	defer release()

	peer := &PeerInfo{UID: "peer-uid", MAC: "020000000009", Fingerprint: "ff"}
	first := h.send(&Request{Command: CmdCreateLink, OverlayId: "ov6", LinkId: "l1", PeerInfo: peer})
	second := h.send(&Request{Command: CmdCreateLink, OverlayId: "ov6", LinkId: "l1", PeerInfo: peer})
	// both requests are waiting once the echo is answered
	assert.Equal(t, "sync", h.call(&Request{Command: CmdEcho, Message: "sync"}).Message)
	release()

	got := map[string]*Response{}
	for len(got) < 2 {
		c := h.recv()
		require.Equal(t, TypeResponse, c.ControlType)
		got[c.TransactionId] = c.Response
	}
	require.Contains(t, got, first)
	require.Contains(t, got, second)
	assert.True(t, got[first].Success)
	assert.True(t, got[second].Success)
	assert.NotEmpty(t, field(t, got[first].Message, "CAS"))
	assert.Equal(t, field(t, got[first].Message, "CAS"), field(t, got[second].Message, "CAS"))

	h.srv.mu.Lock()
	assert.Empty(t, h.srv.pending)
	h.srv.mu.Unlock()
}

func TestCreateLinkGatherFailure(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.call(&Request{Command: CmdCreateOverlay, OverlayId: "ov7"}).Success)

	h.daemon.net.FailGather(errors.New("no interfaces"))
	peer := &PeerInfo{UID: "peer-uid", MAC: "020000000009", Fingerprint: "ff"}
	txn := h.send(&Request{Command: CmdCreateLink, OverlayId: "ov7", LinkId: "l1", PeerInfo: peer})

	var resp *Response
	var down bool
	for resp == nil || !down {
		c := h.recv()
		switch c.ControlType {
		case TypeResponse:
			require.Equal(t, txn, c.TransactionId)
			require.Nil(t, resp, "CreateLink answered twice")
			resp = c.Response
		case TypeRequest:
			assert.Equal(t, "LinkStateChange", c.Request.Command)
			assert.Equal(t, "LINK_STATE_DOWN", c.Request.Data)
			down = true
		}
	}
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "went down during setup")

	h.srv.mu.Lock()
	assert.Empty(t, h.srv.pending)
	h.srv.mu.Unlock()
}

func TestRoutesAndFrames(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.call(&Request{Command: CmdCreateOverlay, OverlayId: "ov3"}).Success)

	// no adjacent next hop
	resp := h.call(&Request{Command: CmdUpdateRoute, OverlayId: "ov3",
		Routes: []Route{{Dest: "020000000003", NextHop: "020000000002"}}})
	assert.False(t, resp.Success)
	assert.False(t, h.call(&Request{Command: CmdUpdateRoute, OverlayId: "ov3"}).Success)
	assert.False(t, h.call(&Request{Command: CmdUpdateRoute, OverlayId: "ov3",
		Routes: []Route{{Dest: "zz", NextHop: "020000000002"}}}).Success)

	frame := []byte{0x02, 0, 0, 0, 0, 1, 0x02, 0, 0, 0, 0, 9, 0x08, 0x06, 0xAA}
	resp = h.call(&Request{Command: CmdInjectFrame, OverlayId: "ov3", Data: hex.EncodeToString(frame)})
	require.True(t, resp.Success, "%v", resp.Message)
	assert.Equal(t, [][]byte{frame}, h.daemon.device("ov3").Written())
	assert.False(t, h.call(&Request{Command: CmdInjectFrame, OverlayId: "ov3", Data: "xyz"}).Success)

	assert.False(t, h.call(&Request{Command: CmdSendIcc, OverlayId: "ov3", LinkId: "l1", Data: "hi"}).Success)
}

func TestNotifications(t *testing.T) {
	h := newHarness(t)
	// make sure the connection is registered
	require.True(t, h.call(&Request{Command: CmdEcho}).Success)

	peer := defn.MacAddress{0x02, 0, 0, 0, 0, 2}
	h.srv.Deliver(overlay.UnresolvedDestination{OverlayId: "ov", TapName: "tap0", Frame: []byte{1, 2, 3}})
	c := h.recv()
	assert.Equal(t, TypeRequest, c.ControlType)
	assert.NotEmpty(t, c.TransactionId)
	assert.Equal(t, "UpdateRoutes", c.Request.Command)
	assert.Equal(t, "tap0", c.Request.TapName)
	assert.Equal(t, "010203", c.Request.Data)

	h.srv.Deliver(overlay.InterControllerMessage{OverlayId: "ov", LinkId: "l1", PeerMac: peer, Data: []byte("icc")})
	c = h.recv()
	assert.Equal(t, "ICC", c.Request.Command)
	assert.Equal(t, "020000000002", c.Request.PeerMac)
	assert.Equal(t, "icc", c.Request.Data)

	h.srv.Deliver(overlay.LinkStateChanged{OverlayId: "ov", LinkId: "l1", PeerMac: peer, State: overlay.LinkStateUp})
	c = h.recv()
	assert.Equal(t, "LinkStateChange", c.Request.Command)
	assert.Equal(t, "LINK_STATE_UP", c.Request.Data)

	// candidates nobody waits for are not forwarded
	h.srv.Deliver(overlay.LocalCandidatesReady{OverlayId: "ov", LinkId: "l1", Candidates: "mem:1"})
	resp := h.call(&Request{Command: CmdEcho, Message: "after"})
	assert.Equal(t, "after", resp.Message)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.call(&Request{Command: CmdCreateOverlay, OverlayId: "ov4"}).Success)

	res, err := http.Get(h.http.URL + MetricsPath)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	_, err = io.ReadAll(res.Body)
	require.NoError(t, err)
}

func TestClient(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.call(&Request{Command: CmdCreateOverlay, OverlayId: "ov5"}).Success)

	cli, err := Dial(strings.TrimPrefix(h.http.URL, "http://"), 2*time.Second)
	require.NoError(t, err)
	defer cli.Close()

	resp, err := cli.Call(&Request{Command: CmdEcho, Message: "hello"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "hello", resp.Message)

	// the new connection replaced the harness controller
	resp, err = cli.Call(&Request{Command: CmdQueryOverlayInfo, OverlayId: "ov5"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "ov5", field(t, resp.Message, "OverlayId"))

	h.srv.Deliver(overlay.UnresolvedDestination{OverlayId: "ov5", TapName: "tap0", Frame: []byte{1}})
	resp, err = cli.Call(&Request{Command: CmdEcho, Message: "again"})
	require.NoError(t, err)
	assert.Equal(t, "again", resp.Message)
}
