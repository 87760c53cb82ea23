/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package overlay

import (
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/ipop-project/tincan/tincan/core"
	"github.com/ipop-project/tincan/tincan/defn"
)

// worker is a network worker. All transmissions and dispatch decisions for
// a peer are made on the worker its address hashes to.
type worker struct {
	overlay    string
	id         int
	tasks      chan func()
	shouldQuit chan struct{}
	HasQuit    chan struct{}
}

func newWorker(overlay string, id int, queueSize int) *worker {
	return &worker{
		overlay:    overlay,
		id:         id,
		tasks:      make(chan func(), queueSize),
		shouldQuit: make(chan struct{}),
		HasQuit:    make(chan struct{}),
	}
}

func (w *worker) String() string {
	return fmt.Sprintf("net-worker-%d (overlay=%s)", w.id, w.overlay)
}

// Run processes tasks until told to quit. Queued tasks are dropped on quit.
func (w *worker) Run() {
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

// TellToQuit tells the worker to quit.
func (w *worker) TellToQuit() {
	close(w.shouldQuit)
}

// Queue posts a task. It returns false if the task was dropped.
func (w *worker) Queue(task func()) bool {
	select {
	case <-w.shouldQuit:
		return false
	default:
	}
	select {
	case w.tasks <- task:
		return true
	default:
		core.Log.Error(w, "Task dropped due to full queue")
		metricDropped.WithLabelValues(w.overlay, "queue-full").Inc()
		return false
	}
}

// workerFor hashes a peer address to a worker.
func workerFor(workers []*worker, mac defn.MacAddress) *worker {
	return workers[xxhash.Sum64(mac[:])%uint64(len(workers))]
}
