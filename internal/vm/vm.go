// Package vm composes the Memory Manager (M), Garbage Collector (G), and
// Scheduler & Monitor Layer (S) into a single core instance, wiring the
// seams internal/mem, internal/gc, and internal/sched deliberately leave
// open: the collector's view of isolate liveness, the manager's collector
// hand-off, and the ambient logger/metrics/config every layer shares
// (spec §5 "Shared-resource policy": "exactly one instance of each of M,
// G, and S per VM").
package vm

import (
	"go.uber.org/zap"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/config"
	"github.com/dougxc/squawk/internal/gc"
	"github.com/dougxc/squawk/internal/mem"
	"github.com/dougxc/squawk/internal/metrics"
	"github.com/dougxc/squawk/internal/sched"
	"github.com/dougxc/squawk/internal/vmerr"
)

// VM is the composition root: one Manager, one Collector, one Scheduler,
// sharing one configuration, logger, and metrics registry.
type VM struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Registry

	Mem       *mem.Manager
	Collector *gc.Collector
	Sched     *sched.Scheduler
}

// New builds a fully wired VM: constructs M, then G over it, then S over
// it, installs G into M as its collector hand-off, and wires the
// collector's isolate-liveness check to the scheduler (the seam
// internal/gc.Collector.IsolateAlive and internal/mem.Manager.Collector
// both exist to let these three packages stay import-acyclic).
func New(cfg config.Config, logger *zap.Logger, reg *metrics.Registry) *VM {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := mem.New(cfg, logger, reg)
	collector := gc.New(m)
	s := sched.New(m)

	collector.IsolateAlive = s.IsolateAlive
	m.SetCollector(collector)

	return &VM{
		Config:    cfg,
		Logger:    logger,
		Metrics:   reg,
		Mem:       m,
		Collector: collector,
		Sched:     s,
	}
}

// CollectGarbage runs an explicit, user-requested collection (spec §6
// allow-user-GC knob): a no-op returning an error if the knob is off,
// otherwise delegated straight to the collector.
func (v *VM) CollectGarbage(full bool) (addr.UWord, error) {
	if !v.Config.AllowUserGC {
		return 0, vmerr.Fatal("explicit collection requested but allow-user-GC is disabled")
	}
	return v.Collector.Collect(full)
}

// RescheduleNext drains the scheduler's main loop and then opportunistically
// drains the finalizer-runner queue, calling runFinalizer once per pending
// entry (spec §12: the finalizer queue is drained "once per reschedule_next
// pass when non-empty").
func (v *VM) RescheduleNext(runFinalizer func(mem.FinalizerEntry)) (*sched.Thread, error) {
	next, err := v.Sched.RescheduleNext()
	if err != nil {
		return nil, err
	}
	if runFinalizer != nil {
		v.Sched.RunFinalizers(runFinalizer)
	}
	return next, nil
}
