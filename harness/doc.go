// Package harness drives crash-safety scenarios against a filesystem on a
// wearing device.
//
// A run provisions the filesystem, sets every scenario up once and then
// repeats the perform phase until the iteration budget is spent or the
// filesystem reports that it is out of space. After the loop (and, if
// configured, after every iteration) each scenario checks its invariant on a
// freshly mounted filesystem. Running out of space ends a run; it is not a
// failure. A violated invariant is.
//
// # Usage
//
//	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(128<<10),
//	    blockdevice.WithEraseCycles(100))
//	h, err := harness.New(dev, cowfs.New(), harness.DefaultRegistry(),
//	    harness.WithCheckEachIteration(true))
//	if err != nil {
//	    return err
//	}
//	report, err := h.Run(ctx)
package harness
