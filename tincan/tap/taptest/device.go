// Package taptest provides an in-memory TAP device for testing overlays.
package taptest

import (
	"sync"

	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/frame"
	"github.com/ipop-project/tincan/tincan/tap"
)

// Device holds posted reads until a test injects a frame. Writes complete
// synchronously and are recorded.
type Device struct {
	mac defn.MacAddress

	mu     sync.Mutex
	name   string
	h      tap.CompletionHandler
	reads  []*frame.Frame
	writes [][]byte
	up     bool
	opened bool
	closed bool
}

// NewDevice creates a device with the given hardware address.
func NewDevice(mac defn.MacAddress) *Device {
	return &Device{mac: mac, name: "tap-" + mac.Hex()}
}

func (d *Device) Open(desc tap.Descriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return defn.ErrClosed
	}
	if desc.Name != "" {
		d.name = desc.Name
	}
	d.opened = true
	return nil
}

func (d *Device) SetCompletionHandler(h tap.CompletionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.h = h
}

func (d *Device) ReadAsync(f *frame.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || !d.opened {
		return defn.ErrClosed
	}
	d.reads = append(d.reads, f)
	return nil
}

func (d *Device) WriteAsync(f *frame.Frame) error {
	d.mu.Lock()
	if d.closed || !d.opened {
		d.mu.Unlock()
		return defn.ErrClosed
	}
	d.writes = append(d.writes, append([]byte(nil), f.Payload()...))
	h := d.h
	d.mu.Unlock()
	if h != nil {
		h.TapWriteComplete(&tap.AsyncIo{Frame: f, Good: true})
	}
	return nil
}

func (d *Device) Up() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.up = true
	return nil
}

func (d *Device) Down() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.up = false
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.reads = nil
	return nil
}

func (d *Device) MacAddress() defn.MacAddress {
	return d.mac
}

func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// next takes the oldest pending read.
func (d *Device) next() (*frame.Frame, tap.CompletionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.reads) == 0 {
		return nil, nil
	}
	f := d.reads[0]
	d.reads = d.reads[1:]
	return f, d.h
}

// Inject completes the oldest pending read with payload. It reports false
// when no read is pending.
func (d *Device) Inject(payload []byte) bool {
	f, h := d.next()
	if f == nil {
		return false
	}
	f.Reset()
	copy(f.ReadBuffer(), payload)
	if err := f.SetPayloadLen(len(payload)); err != nil {
		h.TapReadComplete(&tap.AsyncIo{Frame: f, Err: err})
		return true
	}
	h.TapReadComplete(&tap.AsyncIo{Frame: f, Good: true})
	return true
}

// FailRead completes the oldest pending read with an error.
func (d *Device) FailRead() bool {
	f, h := d.next()
	if f == nil {
		return false
	}
	h.TapReadComplete(&tap.AsyncIo{Frame: f, Err: defn.ErrClosed})
	return true
}

// Pending returns the number of outstanding reads.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reads)
}

// Written returns copies of every frame written.
func (d *Device) Written() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.writes...)
}

// IsUp reports whether the device is up.
func (d *Device) IsUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.up
}

// IsClosed reports whether Close was called.
func (d *Device) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
