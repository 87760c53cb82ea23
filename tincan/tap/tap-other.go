//go:build !linux

/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package tap

import (
	"errors"
	"io"

	"github.com/ipop-project/tincan/tincan/defn"
)

func openPlatform(Descriptor) (io.ReadWriteCloser, controller, defn.MacAddress, error) {
	return nil, nil, defn.MacAddress{}, errors.New("TAP devices are only supported on linux")
}
