package metrics_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougxc/squawk/internal/metrics"
)

func TestCollectionRunIncrementsCounters(t *testing.T) {
	r, promReg := metrics.New()
	r.CollectionRun("young", 128)
	r.CollectionRun("young", 64)
	r.CollectionRun("full", 256)

	expected := `
# HELP squawk_gc_collections_total Number of collections run, labeled by kind (young, full).
# TYPE squawk_gc_collections_total counter
squawk_gc_collections_total{kind="full"} 1
squawk_gc_collections_total{kind="young"} 2
`
	require.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expected), "squawk_gc_collections_total"))

	expectedBytes := `
# HELP squawk_gc_bytes_reclaimed_total Total bytes reclaimed across all collections.
# TYPE squawk_gc_bytes_reclaimed_total counter
squawk_gc_bytes_reclaimed_total 448
`
	require.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expectedBytes), "squawk_gc_bytes_reclaimed_total"))
}

func TestGaugesReflectLastSetValue(t *testing.T) {
	r, promReg := metrics.New()
	r.SetLiveThreads(3)
	r.SetReadyQueueDepth(2)
	r.SetFinalizersQueued(1)
	r.SetLiveThreads(5)

	expected := `
# HELP squawk_sched_live_threads Number of threads not yet terminated.
# TYPE squawk_sched_live_threads gauge
squawk_sched_live_threads 5
`
	require.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expected), "squawk_sched_live_threads"))
}

func TestNilRegistryMethodsAreNoOps(t *testing.T) {
	var r *metrics.Registry
	assert.NotPanics(t, func() {
		r.CollectionRun("young", 1)
		r.SetLiveThreads(1)
		r.SetReadyQueueDepth(1)
		r.SetFinalizersQueued(1)
	})
}
