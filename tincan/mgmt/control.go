/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package mgmt

import (
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/link"
)

// ProtocolVersion of the control messages.
const ProtocolVersion = 5

// Control types.
const (
	TypeRequest  = "TincanRequest"
	TypeResponse = "TincanResponse"
)

// Commands accepted from the controller.
const (
	CmdConfigureLogging         = "ConfigureLogging"
	CmdCreateLink               = "CreateLink"
	CmdCreateOverlay            = "CreateOverlay"
	CmdEcho                     = "Echo"
	CmdInjectFrame              = "InjectFrame"
	CmdQueryCandidateAddressSet = "QueryCandidateAddressSet"
	CmdQueryLinkStats           = "QueryLinkStats"
	CmdQueryOverlayInfo         = "QueryOverlayInfo"
	CmdRemoveLink               = "RemoveLink"
	CmdRemoveOverlay            = "RemoveOverlay"
	CmdSendIcc                  = "SendIcc"
	CmdUpdateRoute              = "UpdateRoute"
)

// Control is one message on the control channel, in either direction.
// Notifications raised by tincan are requests without a response.
type Control struct {
	ProtocolVersion int       `json:"ProtocolVersion"`
	ControlType     string    `json:"ControlType"`
	TransactionId   string    `json:"TransactionId"`
	Request         *Request  `json:"Request,omitempty"`
	Response        *Response `json:"Response,omitempty"`
}

// Request carries a command and its arguments. Only the fields used by
// the command are set.
type Request struct {
	Command   string `json:"Command"`
	OverlayId string `json:"OverlayId,omitempty"`
	LinkId    string `json:"LinkId,omitempty"`
	TapName   string `json:"TapName,omitempty"`

	// CreateOverlay
	Type                 string            `json:"Type,omitempty"`
	IP4                  string            `json:"IP4,omitempty"`
	PrefixLen4           int               `json:"PrefixLen4,omitempty"`
	MTU4                 int               `json:"MTU4,omitempty"`
	NodeId               string            `json:"NodeId,omitempty"`
	StunServers          []string          `json:"StunServers,omitempty"`
	TurnServers          []core.TurnServer `json:"TurnServers,omitempty"`
	IgnoredNetInterfaces []string          `json:"IgnoredNetInterfaces,omitempty"`

	// CreateLink
	PeerInfo *PeerInfo `json:"PeerInfo,omitempty"`
	Role     string    `json:"Role,omitempty"`

	// UpdateRoute
	Routes []Route `json:"Routes,omitempty"`

	// InjectFrame, SendIcc and notifications
	PeerMac string `json:"PeerMac,omitempty"`
	Data    string `json:"Data,omitempty"`

	// ConfigureLogging
	Level string `json:"Level,omitempty"`
	// Echo
	Message string `json:"Message,omitempty"`
}

// PeerInfo describes the remote end of a link.
type PeerInfo struct {
	UID         string `json:"UID"`
	MAC         string `json:"MAC"`
	Fingerprint string `json:"FPR"`
	CAS         string `json:"CAS"`
}

// Route maps a destination to the adjacent peer leading to it.
// Addresses are 12-digit hex.
type Route struct {
	Dest    string `json:"Dest"`
	NextHop string `json:"NextHop"`
}

// Response is the outcome of a request. Message is a string or a result
// object, depending on the command.
type Response struct {
	Success bool `json:"Success"`
	Message any  `json:"Message"`
}

// LinkResult answers CreateLink once local candidates are known.
type LinkResult struct {
	OverlayId   string `json:"OverlayId"`
	LinkId      string `json:"LinkId"`
	MAC         string `json:"MAC"`
	Fingerprint string `json:"FPR"`
	CAS         string `json:"CAS"`
}

// LinkStatsResult answers QueryLinkStats.
type LinkStatsResult struct {
	LinkId string           `json:"LinkId"`
	Status string           `json:"Status"`
	Role   string           `json:"Role,omitempty"`
	Stats  []link.PairStats `json:"Stats"`
}

// CandidatesResult answers QueryCandidateAddressSet.
type CandidatesResult struct {
	LinkId string `json:"LinkId"`
	Role   string `json:"Role"`
	CAS    string `json:"CAS"`
}

func newRequest(id string, req *Request) *Control {
	return &Control{
		ProtocolVersion: ProtocolVersion,
		ControlType:     TypeRequest,
		TransactionId:   id,
		Request:         req,
	}
}

// respond turns a request into its response.
func (c *Control) respond(ok bool, msg any) *Control {
	return &Control{
		ProtocolVersion: ProtocolVersion,
		ControlType:     TypeResponse,
		TransactionId:   c.TransactionId,
		Request:         c.Request,
		Response:        &Response{Success: ok, Message: msg},
	}
}
