/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ipop-project/tincan/std/utils"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/ipop-project/tincan/tincan/link"
	"github.com/ipop-project/tincan/tincan/mgmt"
	"github.com/ipop-project/tincan/tincan/overlay"
	"github.com/ipop-project/tincan/tincan/tap"
	"github.com/ipop-project/tincan/tincan/transport"
	"go.uber.org/multierr"
)

// Tincan is the daemon: a set of overlays driven by one controller.
// Note: only one instance of this class should be created.
type Tincan struct {
	config   *core.Config
	server   *mgmt.Server
	profiler *Profiler

	// collaborators of new overlays
	newDevice func(cfg *core.OverlayConfig) tap.Device
	factory   link.TransportFactory

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	overlays map[string]overlay.Overlay
}

// NewTincan creates the daemon. Don't call this function twice.
func NewTincan(config *core.Config) *Tincan {
	// Provide global configuration.
	core.C = config
	core.StartTimestamp = time.Now()
	core.OpenLogger()

	t := &Tincan{
		config:   config,
		profiler: NewProfiler(config),
		newDevice: func(*core.OverlayConfig) tap.Device {
			return tap.NewTapDevice(config.Overlay.QueueSize)
		},
		factory:  transport.Factory,
		done:     make(chan struct{}),
		overlays: make(map[string]overlay.Overlay),
	}
	t.server = mgmt.NewServer(mgmt.ServerConfig{
		Bind:      config.Mgmt.Bind,
		Port:      config.Mgmt.Port,
		Metrics:   config.Mgmt.Metrics,
		QueueSize: config.Overlay.QueueSize,
	}, t)
	return t
}

func (t *Tincan) String() string {
	return "tincan"
}

// Server returns the control server.
func (t *Tincan) Server() *mgmt.Server {
	return t.server
}

// Start creates the configured overlays and serves the control channel.
// This function is non-blocking.
func (t *Tincan) Start(ctx context.Context) error {
	core.Log.Info(t, "Starting tincan", "version", utils.TincanVersion)
	if err := t.profiler.Start(); err != nil {
		return err
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	for _, cfg := range t.config.Overlays {
		if _, err := t.CreateOverlay(cfg); err != nil {
			t.cancel()
			t.cancel = nil
			return multierr.Combine(err, t.removeAll(), t.profiler.Stop())
		}
	}

	go func() {
		defer close(t.done)
		if err := t.server.Run(); err != nil {
			core.Log.Error(t, "Control server failed", "err", err)
		}
	}()
	return nil
}

// Stop shuts down every overlay and the control channel.
func (t *Tincan) Stop() error {
	// Close log file last
	defer core.CloseLogger()

	core.Log.Info(t, "Stopping tincan")
	defer core.Log.Info(t, "Stopped tincan")

	err := t.server.Close()
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	return multierr.Combine(err, t.removeAll(), t.profiler.Stop())
}

func (t *Tincan) removeAll() error {
	t.mu.Lock()
	overlays := t.overlays
	t.overlays = make(map[string]overlay.Overlay)
	t.mu.Unlock()

	var err error
	for _, ov := range overlays {
		err = multierr.Append(err, ov.Shutdown())
	}
	return err
}

// CreateOverlay implements mgmt.Daemon.
func (t *Tincan) CreateOverlay(cfg core.OverlayConfig) (overlay.Overlay, error) {
	if cfg.OverlayId == "" {
		return nil, fmt.Errorf("%w: overlay id missing", defn.ErrInvalid)
	}
	if cfg.TapName == "" {
		cfg.TapName = "ipop" + cfg.OverlayId
	}
	if t.ctx == nil {
		return nil, fmt.Errorf("%w: tincan not started", defn.ErrNotReady)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.overlays[cfg.OverlayId]; ok {
		return nil, fmt.Errorf("%w: overlay %s already exists", defn.ErrInvalid, cfg.OverlayId)
	}

	ov, err := overlay.New(overlay.Params{
		Config:  &cfg,
		Device:  t.newDevice(&cfg),
		Factory: t.factory,
		Bridge:  t.server,
	})
	if err != nil {
		return nil, err
	}
	if err := ov.Start(t.ctx); err != nil {
		return nil, err
	}
	t.overlays[cfg.OverlayId] = ov
	core.Log.Info(t, "Created overlay", "id", cfg.OverlayId, "type", ov.Type(), "tap", cfg.TapName)
	return ov, nil
}

// RemoveOverlay implements mgmt.Daemon.
func (t *Tincan) RemoveOverlay(id string) error {
	t.mu.Lock()
	ov, ok := t.overlays[id]
	delete(t.overlays, id)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: no overlay %s", defn.ErrNotFound, id)
	}
	core.Log.Info(t, "Removing overlay", "id", id)
	return ov.Shutdown()
}

// Overlay implements mgmt.Daemon.
func (t *Tincan) Overlay(id string) (overlay.Overlay, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ov, ok := t.overlays[id]
	if !ok {
		return nil, fmt.Errorf("%w: no overlay %s", defn.ErrNotFound, id)
	}
	return ov, nil
}

// Overlays returns the ids of every overlay.
func (t *Tincan) Overlays() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.overlays))
	for id := range t.overlays {
		ids = append(ids, id)
	}
	return ids
}
