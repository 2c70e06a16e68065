package hvdetect

import (
	"runtime"
	"time"
)

// Level tags a progress message.
type Level int

const (
	LevelInfo  Level = iota // routine progress
	LevelWarn               // something worth a second look
	LevelFound              // a detection
	LevelError              // a failed stage
	LevelDebug              // module annotation and other extras
)

// LogFunc receives progress messages from a Detector.
type LogFunc func(level Level, format string, args ...any)

// Result is the outcome of a detection pass.
type Result struct {
	Verdict
	TotalThreads      int    `json:"total_threads"`
	ProcessorSource   string `json:"processor_source"`
	ModulesResolved   int    `json:"modules_resolved,omitempty"`
	ModuleQueryFailed bool   `json:"module_query_failed,omitempty"`
}

// Processor count sources reported in Result.ProcessorSource.
const (
	SourceTopology = "topology"
	SourceFallback = "fallback"
)

// Detector runs a full detection pass against the host queries.
type Detector struct {
	config        Config
	processQuery  QueryFunc
	topologyQuery QueryFunc
	moduleQuery   QueryFunc
	fallbackCount func() int
	alloc         Allocator
	logf          LogFunc
}

// Option configures a Detector.
type Option func(*Detector)

// WithConfig replaces the default heuristic constants.
func WithConfig(cfg Config) Option {
	return func(d *Detector) { d.config = cfg }
}

// WithQueries replaces the process snapshot and processor topology queries.
func WithQueries(process, topology QueryFunc) Option {
	return func(d *Detector) {
		d.processQuery = process
		d.topologyQuery = topology
	}
}

// WithModuleQuery enables annotating candidate addresses with the kernel
// module containing them. The annotation never changes the verdict.
func WithModuleQuery(q QueryFunc) Option {
	return func(d *Detector) { d.moduleQuery = q }
}

// WithFallbackProcessorCount sets the processor count used when the
// topology query fails.
func WithFallbackProcessorCount(f func() int) Option {
	return func(d *Detector) { d.fallbackCount = f }
}

// WithAllocator sets the allocator used for query buffers.
func WithAllocator(a Allocator) Option {
	return func(d *Detector) { d.alloc = a }
}

// WithLogger sets the progress sink.
func WithLogger(f LogFunc) Option {
	return func(d *Detector) { d.logf = f }
}

// NewDetector returns a Detector bound to the host queries of the running
// platform, modified by opts.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		config:        DefaultConfig(),
		processQuery:  ProcessSnapshotQuery,
		topologyQuery: ProcessorTopologyQuery,
		fallbackCount: runtime.NumCPU,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) log(level Level, format string, args ...any) {
	if d.logf != nil {
		d.logf(level, format, args...)
	}
}

// Run performs one detection pass. A nil error with Detected false means
// no VMBUS worker pattern was found.
func (d *Detector) Run() (*Result, error) {
	start := time.Now()
	defer func() {
		recordPass(time.Since(start))
	}()

	engine, err := NewEngine(d.config)
	if err != nil {
		return nil, err
	}
	n := NewNegotiator(d.config.MaxAttempts, d.alloc)
	res := &Result{}

	var modules ModuleTable
	if d.moduleQuery != nil {
		d.log(LevelDebug, "Querying module information...")
		modules, err = QueryModules(n, d.moduleQuery)
		if err != nil {
			res.ModuleQueryFailed = true
			d.log(LevelDebug, "Failed to get module information (%v). Continuing anyway.", err)
		} else {
			res.ModulesResolved = len(modules)
			d.log(LevelDebug, "%d modules found.", len(modules))
		}
	}

	d.log(LevelInfo, "Querying process information...")
	threads, err := QueryThreads(n, d.processQuery)
	if err != nil {
		d.log(LevelError, "Failed to get thread information: %v", err)
		return nil, err
	}
	if len(threads) == 0 {
		d.log(LevelError, "Failed to get thread information. This usually occurs for low integrity processes.")
		return nil, newError(KindInsufficientData, ProcessQueryName)
	}
	res.TotalThreads = len(threads)
	d.log(LevelInfo, "%d total threads found.", len(threads))

	cpus, err := QueryProcessorCount(n, d.topologyQuery)
	res.ProcessorSource = SourceTopology
	if err != nil {
		recordTopologyFallback()
		d.log(LevelError, "Failed to get the number of logical processors (%v). Falling back to the OS estimate.", err)
		cpus = d.fallbackCount()
		res.ProcessorSource = SourceFallback
	}
	d.log(LevelInfo, "%d vCPUs detected.", cpus)

	verdict, err := engine.Evaluate(threads, cpus)
	if err != nil {
		d.log(LevelError, "%v", err)
		return nil, err
	}
	res.Verdict = *verdict
	d.log(LevelInfo, "%d system threads found.", verdict.SystemThreads)
	if verdict.LowConfidence {
		d.log(LevelWarn, "Warning: this system has a small number of logical processors. This check may produce false positives.")
	}

	for i := range res.Candidates {
		c := &res.Candidates[i]
		d.log(LevelWarn, "Potential target with %d threads at address %016X", c.GroupSize, c.StartAddress)
		if mod, off, ok := modules.Lookup(c.StartAddress); ok {
			c.Module = &ModuleLocation{Name: mod.Name, Path: mod.FullPath, Offset: off}
			d.log(LevelDebug, "Module for %016X is %s+0x%x", c.StartAddress, mod.FullPath, off)
		}
		d.log(LevelInfo, "%d nearby threads found.", c.NearbyCount)
	}

	if res.Detected {
		res.Evidence = &res.Candidates[len(res.Candidates)-1]
		recordDetection()
		d.log(LevelFound, "Hyper-V VMBUS driver detected!")
	} else {
		d.log(LevelInfo, "No Hyper-V detected.")
	}
	return res, nil
}

// QueryThreads negotiates a process snapshot buffer and decodes it.
func QueryThreads(n *Negotiator, query QueryFunc) ([]ThreadRecord, error) {
	var threads []ThreadRecord
	err := n.Do(ProcessQueryName, query, func(data []byte) error {
		var err error
		threads, err = DecodeThreadTable(data)
		return err
	})
	return threads, err
}

// QueryProcessorCount negotiates a processor topology buffer and decodes
// the logical processor count. A zero count is reported as insufficient data.
func QueryProcessorCount(n *Negotiator, query QueryFunc) (int, error) {
	var count int
	err := n.Do(TopologyQueryName, query, func(data []byte) error {
		var err error
		count, err = DecodeTopology(data)
		return err
	})
	if err == nil && count < 1 {
		return 0, newError(KindInsufficientData, TopologyQueryName)
	}
	return count, err
}

// QueryModules negotiates a kernel module buffer and decodes it.
func QueryModules(n *Negotiator, query QueryFunc) (ModuleTable, error) {
	var modules ModuleTable
	err := n.Do(ModuleQueryName, query, func(data []byte) error {
		var err error
		modules, err = DecodeModuleTable(data)
		return err
	})
	return modules, err
}
