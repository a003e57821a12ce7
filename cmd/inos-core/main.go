// Command inos-core boots the world-coordination core as a standalone
// process: a handful of managed-thread goroutines running checkpoint
// loops, a collector goroutine driving periodic stop-the-world episodes,
// the preemption timer, the diagnostic agent, and a Prometheus endpoint,
// all wired to one SharedState and torn down on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmxmxh/inos_core/internal/agent"
	"github.com/nmxmxh/inos_core/internal/config"
	"github.com/nmxmxh/inos_core/internal/facade"
	"github.com/nmxmxh/inos_core/internal/memory"
	"github.com/nmxmxh/inos_core/internal/nativecall"
	"github.com/nmxmxh/inos_core/internal/profiler"
	"github.com/nmxmxh/inos_core/kernel/utils"
)

func main() {
	configPath := flag.String("config", "inos-core.toml", "path to a TOML configuration file")
	metricsAddr := flag.String("metrics", ":9090", "address to serve Prometheus metrics on")
	workers := flag.Int("workers", 4, "number of managed-thread goroutines to run")
	flag.Parse()

	logger := utils.DefaultLogger("inos-core")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", utils.Err(err))
	}

	arena := make([]byte, 32*1024*1024)
	state := facade.New(cfg, arena)

	prof := profiler.New(state)
	diag, err := agent.New(cfg.Agent.Addr, "", state, state, logger)
	if err != nil {
		logger.Fatal("failed to start diagnostic agent", utils.Err(err))
	}
	state.RegisterShutdown(diag.Close)

	trampoline := nativecall.New(state.World)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go runWorker(ctx, &wg, state, i, logger)
	}

	go runCollector(ctx, state, prof, logger)
	go serveMetrics(*metricsAddr, prof, logger)

	// Demonstrate the independence protocol around a native call: this
	// goroutine's thread never blocks a stop-the-world episode while the
	// (likely-invalid, demo-only) module is compiled and run.
	go func() {
		if _, err := trampoline.Call(nil, nil); err != nil {
			logger.Debug("demo native call failed, as expected with no real module", utils.Err(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := state.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown did not complete cleanly", utils.Err(err))
	}
}

// runWorker is a VM-owned managed thread: it registers itself via NewVM
// (registry entry + refcount in one step), loops doing nominal work —
// allocating and freeing a small object each tick to exercise the object
// heap — while honoring checkpoints, and reverses registration on exit.
func runWorker(ctx context.Context, wg *sync.WaitGroup, state *facade.SharedState, idx int, logger *utils.Logger) {
	defer wg.Done()

	var frame uintptr
	id := fmt.Sprintf("worker-%d-%s", idx, utils.GenerateID())
	th := state.NewVM(id, &frame)
	defer state.RemoveVM(th)

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state.Checkpoint()

			offset, err := state.Heap.Allocate(id, memory.AllocationRequest{
				Size:  64,
				Owner: id,
				Flags: memory.FlagZeroed,
			})
			if err != nil {
				continue
			}
			if err := state.Heap.Free(id, offset); err != nil {
				logger.Debug("worker failed to free its own allocation", utils.Err(err))
			}
		}
	}
}

// runCollector periodically stops the world, samples the profiler while
// every managed thread is quiescent, and restarts it.
func runCollector(ctx context.Context, state *facade.SharedState, prof *profiler.Profiler, logger *utils.Logger) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state.StopTheWorld("collector")
			prof.RecordStopEpisode()
			prof.Sample()

			state.Heap.FreeCache("collector")

			logger.Debug("stop-the-world episode complete",
				utils.Uint64("time_waiting_ns", state.TimeWaiting()),
				utils.Int("thread_count", state.ThreadCount()),
			)
			state.RestartWorld()
		}
	}
}

func serveMetrics(addr string, prof *profiler.Profiler, logger *utils.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prof.Registry(), promhttp.HandlerOpts{}))

	logger.Info("metrics listening", utils.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", utils.Err(err))
	}
}
