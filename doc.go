// Package hvdetect detects a Hyper-V host from inside a Windows guest by
// looking for the worker thread pattern of the VMBUS driver.
//
// The VMBUS driver starts a group of idle kernel threads whose size is a
// whole multiple of the logical processor count, all sharing one start
// address, plus exactly two auxiliary threads starting a little below it.
// The package reads the system process/thread table and the processor
// topology, decodes both explicitly from their byte layouts, and applies
// that heuristic.
//
// # Requirements
//
//   - Windows (amd64 or arm64); other platforms return "not supported" errors
//   - An elevated process; at low integrity the thread table omits the
//     System process and the pass fails with ErrInsufficientData or
//     ErrNoSystemThreads
//
// # Basic Usage
//
//	d := hvdetect.NewDetector()
//	res, err := d.Run()
//	if err != nil {
//		log.Fatal("detection failed:", err)
//	}
//	if res.Detected {
//		fmt.Printf("VMBUS workers at 0x%x (%d threads, %d nearby)\n",
//			res.Evidence.StartAddress, res.Evidence.GroupSize, res.Evidence.NearbyCount)
//	}
//
// Annotate candidates with the kernel module that contains them:
//
//	d := hvdetect.NewDetector(hvdetect.WithModuleQuery(hvdetect.ModuleQuery))
//
// # Building Blocks
//
// The stages are exported for reuse and testing:
//
//	n := hvdetect.NewNegotiator(100, nil)
//	threads, err := hvdetect.QueryThreads(n, hvdetect.ProcessSnapshotQuery)
//	cpus, err := hvdetect.QueryProcessorCount(n, hvdetect.ProcessorTopologyQuery)
//	engine, _ := hvdetect.NewEngine(hvdetect.DefaultConfig())
//	verdict, err := engine.Evaluate(threads, cpus)
//
// Negotiator implements the query-grow-retry protocol once for every host
// query. DecodeThreadTable, DecodeTopology and DecodeModuleTable operate on
// plain byte slices, so they can be exercised with synthetic buffers.
//
// # Error Handling
//
// Every stage returns *DetectError values carrying an ErrorKind and, for
// host failures, the raw NTSTATUS or Win32 error code. Match them with
// errors.Is against ErrRetryExhausted, ErrInsufficientData, ErrOtherFailure,
// ErrNoSystemThreads, ErrMalformed and ErrInvalidConfig. Set HVDETECT_ENV=production
// for terse messages.
package hvdetect
