/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package overlay

import (
	"github.com/ipop-project/tincan/tincan/defn"
)

// ControlBridge carries overlay events to the controller.
// Deliver is called from worker goroutines and must not block.
type ControlBridge interface {
	Deliver(ev Event)
}

// Event is a notification for the controller.
type Event interface {
	// Command is the control command name of the notification.
	Command() string
	// Overlay is the id of the overlay raising the event.
	Overlay() string
}

// LinkState is the state reported by LinkStateChanged.
type LinkState string

const (
	LinkStateUp   LinkState = "LINK_STATE_UP"
	LinkStateDown LinkState = "LINK_STATE_DOWN"
)

// LinkStateChanged reports a link session becoming ready or broken.
type LinkStateChanged struct {
	OverlayId string
	LinkId    string
	PeerMac   defn.MacAddress
	State     LinkState
}

// UnresolvedDestination carries a frame for which no route exists.
type UnresolvedDestination struct {
	OverlayId string
	TapName   string
	Frame     []byte
}

// InterControllerMessage carries an opaque message from a peer's controller.
type InterControllerMessage struct {
	OverlayId string
	LinkId    string
	PeerMac   defn.MacAddress
	Data      []byte
}

// LocalCandidatesReady reports a completed candidate gather of a link.
type LocalCandidatesReady struct {
	OverlayId  string
	LinkId     string
	Candidates string
}

func (LinkStateChanged) Command() string       { return "LinkStateChange" }
func (UnresolvedDestination) Command() string  { return "UpdateRoutes" }
func (InterControllerMessage) Command() string { return "ICC" }
func (LocalCandidatesReady) Command() string   { return "LocalCandidatesReady" }

func (e LinkStateChanged) Overlay() string       { return e.OverlayId }
func (e UnresolvedDestination) Overlay() string  { return e.OverlayId }
func (e InterControllerMessage) Overlay() string { return e.OverlayId }
func (e LocalCandidatesReady) Overlay() string   { return e.OverlayId }

// BridgeFunc adapts a function to ControlBridge.
type BridgeFunc func(ev Event)

func (f BridgeFunc) Deliver(ev Event) {
	f(ev)
}
