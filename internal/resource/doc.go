// Package resource bounds the host resources a simulation may use.
//
// A Controller governs three budgets:
//
//   - Memory: bytes of simulated medium allocated by concurrent runs
//   - Workers: number of simulations running at the same time
//   - IO: bytes per second programmed or erased on a throttled device
//
// Memory and worker acquisition block until the budget allows it or ctx is
// canceled:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 64 << 20,
//	    MaxWorkers:       4,
//	})
//
//	if err := rc.AcquireWorker(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseWorker()
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
