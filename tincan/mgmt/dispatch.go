/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package mgmt

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/overlay"
	"go.uber.org/multierr"
)

// errPending means the response is sent later.
var errPending = errors.New("response pending")

type handler func(ctl *controller, c *Control) (any, error)

func (s *Server) registerHandlers() {
	s.handlers = map[string]handler{
		CmdConfigureLogging:         s.configureLogging,
		CmdCreateLink:               s.createLink,
		CmdCreateOverlay:            s.createOverlay,
		CmdEcho:                     s.echo,
		CmdInjectFrame:              s.injectFrame,
		CmdQueryCandidateAddressSet: s.queryCandidates,
		CmdQueryLinkStats:           s.queryLinkStats,
		CmdQueryOverlayInfo:         s.queryOverlayInfo,
		CmdRemoveLink:               s.removeLink,
		CmdRemoveOverlay:            s.removeOverlay,
		CmdSendIcc:                  s.sendIcc,
		CmdUpdateRoute:              s.updateRoute,
	}
}

// dispatch runs a request and returns its response, or nil if the
// response is deferred.
func (s *Server) dispatch(ctl *controller, c *Control) *Control {
	if c.Request == nil {
		return c.respond(false, "Request missing")
	}
	h, ok := s.handlers[c.Request.Command]
	if !ok {
		core.Log.Warn(s, "Invalid control operation received", "cmd", c.Request.Command)
		return c.respond(false, fmt.Sprintf("Unknown command %q", c.Request.Command))
	}

	core.Log.Trace(s, "Received control request", "cmd", c.Request.Command, "txn", c.TransactionId)
	msg, err := h(ctl, c)
	if errors.Is(err, errPending) {
		return nil
	}
	if err != nil {
		core.Log.Warn(s, "Control operation failed", "cmd", c.Request.Command, "txn", c.TransactionId, "err", err)
		return c.respond(false, fmt.Sprintf("The %s operation failed: %v", c.Request.Command, err))
	}
	return c.respond(true, msg)
}

func (s *Server) overlayOf(req *Request) (overlay.Overlay, error) {
	if req.OverlayId == "" {
		return nil, fmt.Errorf("%w: overlay id missing", defn.ErrInvalid)
	}
	return s.daemon.Overlay(req.OverlayId)
}

func (s *Server) configureLogging(_ *controller, c *Control) (any, error) {
	if err := core.SetLogLevel(c.Request.Level); err != nil {
		return nil, err
	}
	return "Tincan logging successfully configured.", nil
}

func (s *Server) echo(_ *controller, c *Control) (any, error) {
	return c.Request.Message, nil
}

func (s *Server) createOverlay(_ *controller, c *Control) (any, error) {
	req := c.Request
	ov, err := s.daemon.CreateOverlay(core.OverlayConfig{
		OverlayId:         req.OverlayId,
		Type:              req.Type,
		TapName:           req.TapName,
		IP4:               req.IP4,
		PrefixLen4:        req.PrefixLen4,
		MTU4:              req.MTU4,
		NodeId:            req.NodeId,
		StunServers:       req.StunServers,
		TurnServers:       req.TurnServers,
		IgnoredInterfaces: req.IgnoredNetInterfaces,
	})
	if err != nil {
		return nil, err
	}
	return ov.QueryInfo(), nil
}

func (s *Server) removeOverlay(_ *controller, c *Control) (any, error) {
	if c.Request.OverlayId == "" {
		return nil, fmt.Errorf("%w: overlay id missing", defn.ErrInvalid)
	}
	if err := s.daemon.RemoveOverlay(c.Request.OverlayId); err != nil {
		return nil, err
	}
	return "The RemoveOverlay operation succeeded.", nil
}

func (s *Server) queryOverlayInfo(_ *controller, c *Control) (any, error) {
	ov, err := s.overlayOf(c.Request)
	if err != nil {
		return nil, err
	}
	return ov.QueryInfo(), nil
}

// createLink answers once the link's local candidates are known. The
// request is registered before the link is created so that a candidate
// event racing with CreateLink finds it.
func (s *Server) createLink(ctl *controller, c *Control) (any, error) {
	req := c.Request
	ov, err := s.overlayOf(req)
	if err != nil {
		return nil, err
	}
	if req.LinkId == "" || req.PeerInfo == nil {
		return nil, fmt.Errorf("%w: link id or peer info missing", defn.ErrInvalid)
	}
	mac, err := defn.ParseMac(req.PeerInfo.MAC)
	if err != nil {
		return nil, err
	}

	p := &pendingLink{ctl: ctl, req: c, overlay: ov}
	s.addPending(p)
	sess, err := ov.CreateLink(overlay.LinkRequest{
		LinkId:          req.LinkId,
		PeerUID:         req.PeerInfo.UID,
		PeerMac:         mac,
		PeerFingerprint: req.PeerInfo.Fingerprint,
		PeerCandidates:  req.PeerInfo.CAS,
		Role:            req.Role,
	})
	if err != nil {
		if !s.dropPending(p) {
			// already answered by a link failure
			return nil, errPending
		}
		return nil, err
	}
	if cas := sess.LocalCandidates(); cas != "" {
		s.completeLink(req.OverlayId, req.LinkId, cas)
	}
	return nil, errPending
}

func (s *Server) removeLink(_ *controller, c *Control) (any, error) {
	ov, err := s.overlayOf(c.Request)
	if err != nil {
		return nil, err
	}
	if err := ov.RemoveLink(c.Request.LinkId); err != nil {
		return nil, err
	}
	return fmt.Sprintf("The link %s has been removed.", c.Request.LinkId), nil
}

func (s *Server) queryLinkStats(_ *controller, c *Control) (any, error) {
	ov, err := s.overlayOf(c.Request)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StatsTimeout)
	defer cancel()
	st, err := ov.QueryLinkStats(ctx, c.Request.LinkId)
	if err != nil {
		return nil, err
	}
	ret := LinkStatsResult{LinkId: st.LinkId, Status: string(st.Status), Stats: st.Stats}
	if st.Status == defn.StatusOnline {
		ret.Role = st.Role.String()
	}
	return ret, nil
}

func (s *Server) queryCandidates(_ *controller, c *Control) (any, error) {
	ov, err := s.overlayOf(c.Request)
	if err != nil {
		return nil, err
	}
	ci, err := ov.QueryCandidates(c.Request.LinkId)
	if err != nil {
		return nil, err
	}
	return CandidatesResult{LinkId: ci.LinkId, Role: ci.Role.String(), CAS: ci.Candidates}, nil
}

// updateRoute applies every route it can and reports the ones it cannot.
func (s *Server) updateRoute(_ *controller, c *Control) (any, error) {
	ov, err := s.overlayOf(c.Request)
	if err != nil {
		return nil, err
	}
	if len(c.Request.Routes) == 0 {
		return nil, fmt.Errorf("%w: no routes", defn.ErrInvalidRoute)
	}
	for _, r := range c.Request.Routes {
		dest, derr := defn.ParseMac(r.Dest)
		next, nerr := defn.ParseMac(r.NextHop)
		if e := multierr.Combine(derr, nerr); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		err = multierr.Append(err, ov.UpdateRoute(dest, next))
	}
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("%d routes updated.", len(c.Request.Routes)), nil
}

func (s *Server) injectFrame(_ *controller, c *Control) (any, error) {
	ov, err := s.overlayOf(c.Request)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(c.Request.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: frame data: %v", defn.ErrDecode, err)
	}
	if err := ov.InjectFrame(b); err != nil {
		return nil, err
	}
	return "Frame injected.", nil
}

func (s *Server) sendIcc(_ *controller, c *Control) (any, error) {
	ov, err := s.overlayOf(c.Request)
	if err != nil {
		return nil, err
	}
	if err := ov.SendIcc(c.Request.LinkId, []byte(c.Request.Data)); err != nil {
		return nil, err
	}
	return "ICC sent.", nil
}

// notification converts an overlay event to the request sent to the
// controller.
func notification(ev overlay.Event) *Request {
	switch e := ev.(type) {
	case overlay.LinkStateChanged:
		return &Request{
			Command:   e.Command(),
			OverlayId: e.OverlayId,
			LinkId:    e.LinkId,
			PeerMac:   e.PeerMac.Hex(),
			Data:      string(e.State),
		}
	case overlay.UnresolvedDestination:
		return &Request{
			Command:   e.Command(),
			OverlayId: e.OverlayId,
			TapName:   e.TapName,
			Data:      hex.EncodeToString(e.Frame),
		}
	case overlay.InterControllerMessage:
		return &Request{
			Command:   e.Command(),
			OverlayId: e.OverlayId,
			LinkId:    e.LinkId,
			PeerMac:   e.PeerMac.Hex(),
			Data:      string(e.Data),
		}
	}
	return nil
}
