package pprof

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/Slach/clickhouse-logcontext/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SampleInterval is how often heap samples are appended while profiling runs
const SampleInterval = 30 * time.Second

// Profiler writes a CPU profile, periodic heap samples and a final heap profile
// into one directory
type Profiler struct {
	dir      string
	interval time.Duration

	cpuFile *os.File
	done    chan struct{}
	wg      sync.WaitGroup
}

// New returns a profiler writing to dir, ~/.clickhouse-logcontext when dir is empty
func New(dir string) (*Profiler, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get user home directory")
		}
		dir = filepath.Join(home, types.HomeDirName)
	}
	return &Profiler{dir: dir, interval: SampleInterval}, nil
}

func (p *Profiler) Dir() string {
	return p.dir
}

// Start begins CPU profiling and continuous heap sampling
func (p *Profiler) Start() error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create pprof directory")
	}

	cpuPath := filepath.Join(p.dir, "cpu.pprof")
	f, err := os.Create(cpuPath)
	if err != nil {
		return errors.Wrap(err, "could not create CPU profile file")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "could not start CPU profile")
	}
	p.cpuFile = f
	log.Info().Str("path", cpuPath).Msg("CPU profiling started")

	if err := p.startSampling(); err != nil {
		// CPU profile is still useful without the samples
		log.Error().Err(err).Msg("failed to start memory profiling")
	}
	return nil
}

func (p *Profiler) startSampling() error {
	path := filepath.Join(p.dir, "memory_continuous.pprof")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create continuous memory profile file")
	}

	p.done = make(chan struct{})
	ticker := time.NewTicker(p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		defer f.Close()
		for {
			select {
			case <-ticker.C:
				runtime.GC()
				if err := pprof.WriteHeapProfile(f); err != nil {
					log.Error().Err(err).Msg("failed to write memory profile sample")
				}
			case <-p.done:
				return
			}
		}
	}()

	log.Info().Str("path", path).Dur("interval", p.interval).Msg("continuous memory profiling started")
	return nil
}

// Stop ends profiling and writes the final heap profile
func (p *Profiler) Stop() {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = p.cpuFile.Close()
		p.cpuFile = nil
	}
	if p.done != nil {
		close(p.done)
		p.wg.Wait()
		p.done = nil
	}

	memPath := filepath.Join(p.dir, "memory.pprof")
	f, err := os.Create(memPath)
	if err != nil {
		log.Error().Err(err).Str("path", memPath).Msg("could not create memory profile file")
		return
	}
	defer f.Close()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Error().Err(err).Str("path", memPath).Msg("could not write memory profile")
		return
	}
	log.Info().Str("path", memPath).Msg("memory profile written")
}
