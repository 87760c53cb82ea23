/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

// State is the lifecycle state of one role slot of a peer link.
type State int

const (
	// Absent means no session occupies the slot.
	Absent State = iota
	// Gathering means the session exists but is not yet writable.
	Gathering
	// Ready means the session is connected and writable.
	Ready
	// Broken means the transport failed; the session will not recover.
	Broken
	// Released means the slot was explicitly released.
	Released
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Gathering:
		return "gathering"
	case Ready:
		return "ready"
	case Broken:
		return "broken"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// LinkStatus is the status reported by a link stats query.
type LinkStatus string

const (
	StatusOnline  LinkStatus = "online"
	StatusOffline LinkStatus = "offline"
	StatusUnknown LinkStatus = "unknown"
)
