/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/ipop-project/tincan/tincan/defn"
)

const (
	// HeaderLen is the size of the overlay header: 2-byte tag, 2-byte payload length.
	HeaderLen = 4
	// MaxPayload is the largest Ethernet frame carried (1500 MTU + 14 header + 4 VLAN + 4 FCS).
	MaxPayload = 1522
	// Capacity is the size of a frame buffer.
	Capacity = HeaderLen + MaxPayload

	ethHeaderLen = 14
	ethTypeArp   = 0x0806
	arpOpRequest = 1
	arpOpReply   = 2
)

// Tag is the 2-byte magic at the start of every frame sent over a link.
// Tags are written in network byte order.
type Tag uint16

const (
	TagIcc Tag = 0x0A01
	TagDtf Tag = 0x0B01
	TagFwd Tag = 0x0C01
)

// Kind is the dispatch class of a frame received from a link.
type Kind int

const (
	Unknown Kind = iota
	DirectTransfer
	Forward
	InterController
)

func (k Kind) String() string {
	switch k {
	case DirectTransfer:
		return "dtf"
	case Forward:
		return "fwd"
	case InterController:
		return "icc"
	default:
		return "unknown"
	}
}

// Kind maps a tag to its class.
func (t Tag) Kind() Kind {
	switch t {
	case TagDtf:
		return DirectTransfer
	case TagFwd:
		return Forward
	case TagIcc:
		return InterController
	default:
		return Unknown
	}
}

// Frame is a fixed-capacity buffer: header followed by the payload region.
// A frame has a single owner at a time; it is handed between the TAP device,
// the dispatcher and the network workers by value of the pointer only.
type Frame struct {
	buf [Capacity]byte
	n   int
}

// New returns an empty frame.
func New() *Frame {
	return &Frame{}
}

// Reset clears the header and payload length so the frame can be reused for a read.
func (f *Frame) Reset() {
	f.n = 0
	clear(f.buf[:HeaderLen])
}

// ReadBuffer is the full payload region, used as the target of a TAP read.
func (f *Frame) ReadBuffer() []byte {
	return f.buf[HeaderLen:]
}

// SetPayloadLen records how many payload bytes are valid.
func (f *Frame) SetPayloadLen(n int) error {
	if n < 0 || n > MaxPayload {
		return fmt.Errorf("%w: payload length %d exceeds %d", defn.ErrDecode, n, MaxPayload)
	}
	f.n = n
	return nil
}

// SetPayload copies p into the payload region.
func (f *Frame) SetPayload(p []byte) error {
	if err := f.SetPayloadLen(len(p)); err != nil {
		return err
	}
	copy(f.buf[HeaderLen:], p)
	return nil
}

// Payload returns the valid payload bytes.
func (f *Frame) Payload() []byte {
	return f.buf[HeaderLen : HeaderLen+f.n]
}

// PayloadLen returns the number of valid payload bytes.
func (f *Frame) PayloadLen() int {
	return f.n
}

// SetTag writes the header for the current payload.
func (f *Frame) SetTag(t Tag) {
	binary.BigEndian.PutUint16(f.buf[0:2], uint16(t))
	binary.BigEndian.PutUint16(f.buf[2:4], uint16(f.n))
}

// Tag returns the tag in the header.
func (f *Frame) Tag() Tag {
	return Tag(binary.BigEndian.Uint16(f.buf[0:2]))
}

// Kind returns the class of the tag in the header.
func (f *Frame) Kind() Kind {
	return f.Tag().Kind()
}

// Wire returns header and payload, as transmitted on a link.
func (f *Frame) Wire() []byte {
	return f.buf[:HeaderLen+f.n]
}

// Decode copies a link message into a new frame. It fails with ErrDecode
// when the header is truncated or declares more payload than was received.
// Frames with an unrecognized tag decode successfully and report Unknown.
func Decode(b []byte) (*Frame, error) {
	if len(b) < HeaderLen {
		return nil, fmt.Errorf("%w: frame of %d bytes has no header", defn.ErrDecode, len(b))
	}
	n := int(binary.BigEndian.Uint16(b[2:4]))
	if n > len(b)-HeaderLen || n > MaxPayload {
		return nil, fmt.Errorf("%w: header declares %d bytes, %d received", defn.ErrDecode, n, len(b)-HeaderLen)
	}
	f := New()
	copy(f.buf[:HeaderLen], b[:HeaderLen])
	copy(f.buf[HeaderLen:], b[HeaderLen:HeaderLen+n])
	f.n = n
	return f, nil
}

// Classify returns the class of a link message without copying it.
func Classify(b []byte) Kind {
	if len(b) < HeaderLen {
		return Unknown
	}
	return Tag(binary.BigEndian.Uint16(b[0:2])).Kind()
}
