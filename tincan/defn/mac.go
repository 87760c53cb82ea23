/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// MacLen is the length of an Ethernet hardware address.
const MacLen = 6

// MacAddress is a 6-byte Ethernet hardware address. It is comparable and
// used directly as a map key.
type MacAddress [MacLen]byte

// BroadcastMac is ff:ff:ff:ff:ff:ff.
var BroadcastMac = MacAddress{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// MacFromBytes copies the first six bytes of b.
func MacFromBytes(b []byte) (m MacAddress, err error) {
	if len(b) < MacLen {
		return m, fmt.Errorf("%w: mac needs %d bytes, got %d", ErrDecode, MacLen, len(b))
	}
	copy(m[:], b)
	return m, nil
}

// ParseMac accepts either the 12-digit hex form used by the controller or
// any colon/dash separated form understood by net.ParseMAC.
func ParseMac(s string) (m MacAddress, err error) {
	s = strings.TrimSpace(s)
	if len(s) == 2*MacLen {
		b, err := hex.DecodeString(s)
		if err != nil {
			return m, fmt.Errorf("%w: mac %q: %v", ErrDecode, s, err)
		}
		return MacFromBytes(b)
	}
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != MacLen {
		return m, fmt.Errorf("%w: mac %q", ErrDecode, s)
	}
	return MacFromBytes(hw)
}

// IsBroadcast reports whether m is the Ethernet broadcast address.
func (m MacAddress) IsBroadcast() bool {
	return m == BroadcastMac
}

// IsMulticast reports whether the group bit is set.
func (m MacAddress) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// Hex returns the 12-digit lower case form without separators.
func (m MacAddress) Hex() string {
	return hex.EncodeToString(m[:])
}

func (m MacAddress) String() string {
	return net.HardwareAddr(m[:]).String()
}
