/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

import "fmt"

// Role is the connectivity role a session plays on a link.
// The initiator drives connectivity checks (ICE controlling agent).
type Role int

const (
	Initiator Role = iota
	Responder
)

// Roles lists every role, in slot order.
var Roles = [2]Role{Initiator, Responder}

// TieBreakRole chooses the local role from the two identity fingerprints.
// The side with the lexicographically smaller fingerprint initiates, so two
// peers evaluating it independently always pick opposite roles.
func TieBreakRole(localFpr, peerFpr string) Role {
	if localFpr < peerFpr {
		return Initiator
	}
	return Responder
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == Initiator {
		return Responder
	}
	return Initiator
}

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole parses a role name, accepting the ICE names as aliases.
func ParseRole(s string) (Role, error) {
	switch s {
	case "initiator", "controlling", "CONTROLLING":
		return Initiator, nil
	case "responder", "controlled", "CONTROLLED":
		return Responder, nil
	}
	return Initiator, fmt.Errorf("%w: role %q", ErrInvalid, s)
}
