// Package flashsim simulates wear on flash memory and checks that a
// filesystem keeps its guarantees while the medium wears out.
//
// A simulation couples three pieces:
//
//   - a blockdevice.Exhaustible that models a raw flash part whose erase and
//     program units silently stop accepting writes after a configured number
//     of cycles,
//   - a filesystem implementing vfs.FileSystem (cowfs by default), and
//   - a harness.Registry of scenarios that repeatedly mutate the filesystem
//     and verify their invariants after remounting.
//
// # Quick Start
//
//	cfg := flashsim.DefaultConfig()
//	cfg.Harness.Iterations = 1000
//	res, err := flashsim.Simulate(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Report.Iterations, res.WornUnits.GetCardinality())
//
// # Images
//
// When Config.Image.Dir is set, the worn medium is archived after every run
// and, with Config.Image.Resume, loaded again before the next one. Images
// are compressed with LZ4 or Zstandard; see blockdevice/image.
//
// # Configuration
//
// Configs are YAML files:
//
//	device:
//	  size: 131072
//	  read_size: 1
//	  program_size: 64
//	  erase_size: 512
//	  erase_cycles: 100
//	harness:
//	  iterations: 100
//	  force_format: true
//	  check_each_iteration: true
//	log:
//	  level: info
//	  format: json
package flashsim
