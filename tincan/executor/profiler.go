/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package executor

import (
	"io"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/ipop-project/tincan/tincan/core"
	"go.uber.org/multierr"
)

// Profiler writes the CPU, memory and block profiles named in the
// configuration over the lifetime of the daemon.
type Profiler struct {
	config  *core.Config
	cpuFile *os.File
	block   *pprof.Profile
}

func NewProfiler(config *core.Config) *Profiler {
	return &Profiler{config: config}
}

func (p *Profiler) String() string {
	return "profiler"
}

// Start begins CPU and block profiling if requested.
func (p *Profiler) Start() error {
	if path := p.config.Core.CpuProfile; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return err
		}
		p.cpuFile = f
		core.Log.Info(p, "Profiling CPU", "out", path)
	}

	if p.config.Core.BlockProfile != "" {
		core.Log.Info(p, "Profiling blocking operations", "out", p.config.Core.BlockProfile)
		runtime.SetBlockProfileRate(1)
		p.block = pprof.Lookup("block")
	}
	return nil
}

// Stop writes the collected profiles.
func (p *Profiler) Stop() (err error) {
	if p.block != nil {
		err = multierr.Append(err, writeProfile(p.config.Core.BlockProfile, func(w io.Writer) error {
			return p.block.WriteTo(w, 0)
		}))
		runtime.SetBlockProfileRate(0)
		p.block = nil
	}

	if path := p.config.Core.MemProfile; path != "" {
		core.Log.Info(p, "Profiling memory", "out", path)
		runtime.GC()
		err = multierr.Append(err, writeProfile(path, pprof.WriteHeapProfile))
	}

	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		err = multierr.Append(err, p.cpuFile.Close())
		p.cpuFile = nil
	}
	return err
}

func writeProfile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return multierr.Append(write(f), f.Close())
}
