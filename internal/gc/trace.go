package gc

import (
	"go.uber.org/zap"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/config"
)

func (g *Collector) tracing() bool {
	return g.heap.CollectionsRun() >= g.cfg.GCTraceThreshold
}

func (g *Collector) flagSet(f config.TraceFlag) bool {
	return g.cfg.GCTraceFlags&f != 0
}

func (g *Collector) traceBasic(full bool, scanStart, scanEnd addr.Address) {
	if !g.tracing() || !g.flagSet(config.TraceBasic) {
		return
	}
	g.logger.Debug("gc: starting collection",
		zap.Bool("full", full),
		zap.Uint64("scanStart", uint64(scanStart)),
		zap.Uint64("scanEnd", uint64(scanEnd)),
	)
}

func (g *Collector) traceCollection(kind string, reclaimedWords addr.UWord) {
	if !g.tracing() || !g.flagSet(config.TraceCollection) {
		return
	}
	g.logger.Info("gc: collection complete",
		zap.String("kind", kind),
		zap.Uint64("reclaimedWords", uint64(reclaimedWords)),
		zap.Uint64("collectionsRun", g.heap.CollectionsRun()+1),
	)
}

func (g *Collector) traceGraphCopy(rootCount int) {
	if !g.tracing() || !g.flagSet(config.TraceGraphCopy) {
		return
	}
	g.logger.Debug("gc: graph copy", zap.Int("roots", rootCount))
}

func (g *Collector) traceHeap() {
	if !g.tracing() || !g.flagSet(config.TraceHeap) {
		return
	}
	ramStart, heapEnd := g.heap.RAMBounds()
	g.logger.Debug("gc: heap state",
		zap.Uint64("ramStart", uint64(ramStart)),
		zap.Uint64("heapEnd", uint64(heapEnd)),
		zap.Uint64("oldGenEnd", uint64(g.heap.OldGenEnd())),
		zap.Uint64("ap", uint64(g.heap.AllocPointer())),
	)
}
