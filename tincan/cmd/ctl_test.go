package cmd

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/mgmt"
	"github.com/ipop-project/tincan/tincan/overlay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noDaemon struct{}

func (noDaemon) CreateOverlay(core.OverlayConfig) (overlay.Overlay, error) { return nil, defn.ErrSetup }
func (noDaemon) RemoveOverlay(string) error                               { return defn.ErrNotFound }
func (noDaemon) Overlay(string) (overlay.Overlay, error)                   { return nil, defn.ErrNotFound }

func TestOverlayRequest(t *testing.T) {
	req, err := overlayRequest([]string{"ov", "type=tunnel", "tap=tnl0", "ip4=10.1.0.2", "prefix=24", "mtu=1410", "node=n1"})
	require.NoError(t, err)
	assert.Equal(t, &mgmt.Request{
		Command:    mgmt.CmdCreateOverlay,
		OverlayId:  "ov",
		Type:       "TUNNEL",
		TapName:    "tnl0",
		IP4:        "10.1.0.2",
		PrefixLen4: 24,
		MTU4:       1410,
		NodeId:     "n1",
	}, req)

	_, err = overlayRequest([]string{"ov", "prefix=wide"})
	assert.Error(t, err)
	_, err = overlayRequest([]string{"ov", "color=red"})
	assert.Error(t, err)
	_, err = overlayRequest([]string{"ov", "tap"})
	assert.Error(t, err)
}

func TestRouteRequest(t *testing.T) {
	req, err := routeRequest([]string{"ov", "020000000003=020000000002", "020000000004=020000000002"})
	require.NoError(t, err)
	assert.Equal(t, mgmt.CmdUpdateRoute, req.Command)
	assert.Equal(t, []mgmt.Route{
		{Dest: "020000000003", NextHop: "020000000002"},
		{Dest: "020000000004", NextHop: "020000000002"},
	}, req.Routes)

	_, err = routeRequest([]string{"ov", "020000000003"})
	assert.Error(t, err)
}

func TestCtlExec(t *testing.T) {
	srv := httptest.NewServer(mgmt.NewServer(mgmt.ServerConfig{}, noDaemon{}).Handler())
	defer srv.Close()

	out := &bytes.Buffer{}
	ctl := &Ctl{Addr: strings.TrimPrefix(srv.URL, "http://"), Timeout: 2 * time.Second, Out: out}

	assert.True(t, ctl.Exec(&mgmt.Request{Command: mgmt.CmdEcho, Message: "hi"}))
	assert.Equal(t, "       success=true\n       message=hi\n", out.String())

	out.Reset()
	assert.False(t, ctl.Exec(&mgmt.Request{Command: mgmt.CmdQueryOverlayInfo, OverlayId: "ov"}))
	assert.Contains(t, out.String(), "success=false")

	ctl.Addr = "127.0.0.1:1"
	assert.False(t, ctl.Exec(&mgmt.Request{Command: mgmt.CmdEcho}))
}

func TestPrintResponse(t *testing.T) {
	out := &bytes.Buffer{}
	ctl := &Ctl{Out: out}
	ctl.printResponse(&mgmt.Response{Success: true, Message: map[string]any{
		"Status": "online",
		"LinkId": "l1",
		"Stats":  []any{map[string]any{"rtt": 1.5}},
	}})
	assert.Equal(t, strings.Join([]string{
		"       success=true",
		"        LinkId=l1",
		"         Stats=[{\"rtt\":1.5}]",
		"        Status=online",
		"",
	}, "\n"), out.String())
}
