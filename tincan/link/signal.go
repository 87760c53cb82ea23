/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package link

import (
	"fmt"
	"sync"

	"github.com/ipop-project/tincan/tincan/core"
)

// SignalingWorker serializes candidate handling and connection start for
// all sessions of one overlay.
type SignalingWorker struct {
	name       string
	tasks      chan func()
	shouldQuit chan struct{}
	HasQuit    chan struct{}
	stopOnce   sync.Once
	startOnce  sync.Once
}

// NewSignalingWorker creates a stopped worker.
func NewSignalingWorker(name string, queueSize int) *SignalingWorker {
	return &SignalingWorker{
		name:       name,
		tasks:      make(chan func(), queueSize),
		shouldQuit: make(chan struct{}),
		HasQuit:    make(chan struct{}),
	}
}

func (w *SignalingWorker) String() string {
	return fmt.Sprintf("signal-worker (overlay=%s)", w.name)
}

// Start runs the worker loop in a new goroutine.
func (w *SignalingWorker) Start() {
	w.startOnce.Do(func() { go w.run() })
}

func (w *SignalingWorker) run() {
	defer close(w.HasQuit)
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.shouldQuit:
			core.Log.Debug(w, "Stopping worker", "dropped", len(w.tasks))
			return
		}
	}
}

// Post queues a task. It returns false if the task was dropped.
func (w *SignalingWorker) Post(task func()) bool {
	select {
	case <-w.shouldQuit:
		return false
	default:
	}

	select {
	case w.tasks <- task:
		return true
	default:
		core.Log.Error(w, "Signaling task dropped due to full queue")
		return false
	}
}

// Stop tells the worker to quit and waits until it has.
func (w *SignalingWorker) Stop() {
	w.stopOnce.Do(func() { close(w.shouldQuit) })
	started := true
	w.startOnce.Do(func() { started = false })
	if started {
		<-w.HasQuit
	}
}
