/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package frame

import (
	"encoding/binary"

	"github.com/ipop-project/tincan/tincan/defn"
)

// DestinationMac returns the Ethernet destination of the payload.
// The zero address is returned when the payload is too short.
func (f *Frame) DestinationMac() defn.MacAddress {
	m, _ := defn.MacFromBytes(f.Payload())
	return m
}

// SourceMac returns the Ethernet source of the payload.
func (f *Frame) SourceMac() defn.MacAddress {
	p := f.Payload()
	if len(p) < 2*defn.MacLen {
		return defn.MacAddress{}
	}
	m, _ := defn.MacFromBytes(p[defn.MacLen:])
	return m
}

// EtherType returns the EtherType of the payload, or 0 if it is too short.
func (f *Frame) EtherType() uint16 {
	p := f.Payload()
	if len(p) < ethHeaderLen {
		return 0
	}
	return binary.BigEndian.Uint16(p[12:14])
}

func (f *Frame) arpOp() uint16 {
	p := f.Payload()
	if f.EtherType() != ethTypeArp || len(p) < ethHeaderLen+8 {
		return 0
	}
	return binary.BigEndian.Uint16(p[ethHeaderLen+6 : ethHeaderLen+8])
}

// IsArpRequest reports whether the payload is an ARP request.
func (f *Frame) IsArpRequest() bool {
	return f.arpOp() == arpOpRequest
}

// IsArpResponse reports whether the payload is an ARP reply.
func (f *Frame) IsArpResponse() bool {
	return f.arpOp() == arpOpReply
}

// IsBroadcast reports whether the payload is addressed to ff:ff:ff:ff:ff:ff.
func (f *Frame) IsBroadcast() bool {
	return f.PayloadLen() >= defn.MacLen && f.DestinationMac().IsBroadcast()
}

// Describe names the frame for diagnostic logs.
func (f *Frame) Describe() string {
	switch {
	case f.IsArpRequest():
		return "arp-request"
	case f.IsArpResponse():
		return "arp-response"
	case f.IsBroadcast():
		return "broadcast"
	default:
		return "unicast"
	}
}
