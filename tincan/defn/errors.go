/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

import "errors"

var (
	// ErrSetup means a session or transport could not be created.
	ErrSetup = errors.New("link setup failed")
	// ErrNotReady means a transmit was attempted before the session became writable.
	ErrNotReady = errors.New("link not ready")
	// ErrInvalidRoute means a route update violated a routing invariant.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrNotFound means a lookup for a peer, link or overlay failed.
	ErrNotFound = errors.New("not found")
	// ErrDecode means a frame or control argument was malformed.
	ErrDecode = errors.New("decode error")
	// ErrInvalid means a peer link has no usable session.
	ErrInvalid = errors.New("invalid link")
	// ErrClosed means the component has been shut down.
	ErrClosed = errors.New("closed")
)
