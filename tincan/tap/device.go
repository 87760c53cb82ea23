/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package tap

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/frame"
)

// Descriptor configures a TAP interface.
type Descriptor struct {
	Name       string
	IP4        string
	PrefixLen4 int
	MTU4       int
}

// AsyncIo is the completion record of one read or write.
type AsyncIo struct {
	Frame *frame.Frame
	Good  bool
	Err   error
}

// CompletionHandler receives I/O completions. Ownership of the frame
// passes to the handler.
type CompletionHandler interface {
	TapReadComplete(aio *AsyncIo)
	TapWriteComplete(aio *AsyncIo)
}

// Device is a network interface exchanging Ethernet frames asynchronously.
type Device interface {
	Open(desc Descriptor) error
	SetCompletionHandler(h CompletionHandler)
	// ReadAsync queues f as the target of one read.
	ReadAsync(f *frame.Frame) error
	// WriteAsync queues the payload of f for writing.
	WriteAsync(f *frame.Frame) error
	Up() error
	Down() error
	Close() error
	MacAddress() defn.MacAddress
	Name() string
}

// controller configures the link-level state of an opened interface.
type controller interface {
	SetUp(up bool) error
	Close() error
}

// opener creates the platform interface.
type opener func(desc Descriptor) (port io.ReadWriteCloser, ctl controller, mac defn.MacAddress, err error)

// TapDevice runs one reader and one writer goroutine over an opened port.
type TapDevice struct {
	open    opener
	name    string
	mac     defn.MacAddress
	port    io.ReadWriteCloser
	ctl     controller
	handler CompletionHandler

	reads  chan *frame.Frame
	writes chan *frame.Frame
	quit   chan struct{}
	wg     sync.WaitGroup
	opened atomic.Bool
	closed atomic.Bool
}

// NewTapDevice returns a device backed by the platform TAP driver.
func NewTapDevice(queueSize int) *TapDevice {
	return newDevice(openPlatform, queueSize)
}

func newDevice(open opener, queueSize int) *TapDevice {
	return &TapDevice{
		open:   open,
		reads:  make(chan *frame.Frame, queueSize),
		writes: make(chan *frame.Frame, queueSize),
		quit:   make(chan struct{}),
	}
}

func (d *TapDevice) String() string {
	return fmt.Sprintf("tap-device (name=%s)", d.name)
}

// Open creates and configures the interface and starts the I/O goroutines.
func (d *TapDevice) Open(desc Descriptor) error {
	if !d.opened.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s already open", defn.ErrSetup, d.name)
	}
	port, ctl, mac, err := d.open(desc)
	if err != nil {
		d.opened.Store(false)
		return fmt.Errorf("%w: open tap %s: %v", defn.ErrSetup, desc.Name, err)
	}
	d.name, d.port, d.ctl, d.mac = desc.Name, port, ctl, mac

	d.wg.Add(2)
	go d.readLoop()
	go d.writeLoop()
	core.Log.Info(d, "Opened TAP device", "mac", mac, "ip4", desc.IP4, "mtu", desc.MTU4)
	return nil
}

// SetCompletionHandler must be called before the first read is queued.
func (d *TapDevice) SetCompletionHandler(h CompletionHandler) {
	d.handler = h
}

func (d *TapDevice) ReadAsync(f *frame.Frame) error {
	return d.post(d.reads, f)
}

func (d *TapDevice) WriteAsync(f *frame.Frame) error {
	return d.post(d.writes, f)
}

func (d *TapDevice) post(q chan *frame.Frame, f *frame.Frame) error {
	if d.closed.Load() || !d.opened.Load() {
		return defn.ErrClosed
	}
	select {
	case q <- f:
		return nil
	default:
		return errors.New("tap queue full")
	}
}

func (d *TapDevice) readLoop() {
	defer d.wg.Done()
	for {
		select {
		case f := <-d.reads:
			f.Reset()
			n, err := d.port.Read(f.ReadBuffer())
			if d.closed.Load() {
				return
			}
			aio := &AsyncIo{Frame: f, Err: err}
			if err == nil {
				aio.Err = f.SetPayloadLen(n)
				aio.Good = aio.Err == nil
			}
			d.handler.TapReadComplete(aio)
		case <-d.quit:
			return
		}
	}
}

func (d *TapDevice) writeLoop() {
	defer d.wg.Done()
	for {
		select {
		case f := <-d.writes:
			_, err := d.port.Write(f.Payload())
			if d.closed.Load() {
				return
			}
			d.handler.TapWriteComplete(&AsyncIo{Frame: f, Good: err == nil, Err: err})
		case <-d.quit:
			return
		}
	}
}

// Up brings the interface up.
func (d *TapDevice) Up() error {
	if d.ctl == nil {
		return defn.ErrClosed
	}
	return d.ctl.SetUp(true)
}

// Down brings the interface down.
func (d *TapDevice) Down() error {
	if d.ctl == nil {
		return defn.ErrClosed
	}
	return d.ctl.SetUp(false)
}

// Close stops the I/O goroutines and releases the interface. Queued frames
// are dropped without completion.
func (d *TapDevice) Close() error {
	if !d.opened.Load() || !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.quit)
	err := d.port.Close()
	d.wg.Wait()
	if cerr := d.ctl.Close(); err == nil {
		err = cerr
	}
	core.Log.Info(d, "Closed TAP device")
	return err
}

func (d *TapDevice) MacAddress() defn.MacAddress {
	return d.mac
}

func (d *TapDevice) Name() string {
	return d.name
}
