package hvdetect

// ThreadGroup is the set of threads sharing one start address.
type ThreadGroup struct {
	StartAddress uint64
	Threads      []ThreadRecord
}

// GroupByStartAddress partitions threads by exact start address. Groups are
// returned in order of first appearance and keep decode order internally.
func GroupByStartAddress(threads []ThreadRecord) []ThreadGroup {
	index := make(map[uint64]int)
	var groups []ThreadGroup
	for _, t := range threads {
		i, ok := index[t.StartAddress]
		if !ok {
			i = len(groups)
			index[t.StartAddress] = i
			groups = append(groups, ThreadGroup{StartAddress: t.StartAddress})
		}
		groups[i].Threads = append(groups[i].Threads, t)
	}
	return groups
}

// ModuleLocation annotates an address with the kernel image containing it.
type ModuleLocation struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Offset uint64 `json:"offset"`
}

// Candidate is a thread group whose size is a whole multiple (above one) of
// the processor count, together with its confirmation count.
type Candidate struct {
	StartAddress uint64          `json:"start_address"`
	GroupSize    int             `json:"group_size"`
	NearbyCount  int             `json:"nearby_count"`
	Module       *ModuleLocation `json:"module,omitempty"`
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Detected       bool        `json:"detected"`
	Evidence       *Candidate  `json:"evidence,omitempty"`
	Candidates     []Candidate `json:"candidates,omitempty"`
	ProcessorCount int         `json:"processor_count"`
	SystemThreads  int         `json:"system_threads"`
	LowConfidence  bool        `json:"low_confidence"`
}

// Engine applies the VMBUS worker thread heuristic to decoded threads.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine using it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// SystemThreads returns the threads owned by the configured system process.
func (e *Engine) SystemThreads(threads []ThreadRecord) []ThreadRecord {
	var system []ThreadRecord
	for _, t := range threads {
		if t.ProcessID == e.cfg.SystemProcessID {
			system = append(system, t)
		}
	}
	return system
}

// Evaluate looks for a group of system threads whose size is a multiple of
// processorCount greater than processorCount, confirmed by exactly
// ConfirmationCount system threads starting within ProximityWindow bytes
// below the group's address. The first confirmed candidate wins.
func (e *Engine) Evaluate(threads []ThreadRecord, processorCount int) (*Verdict, error) {
	if processorCount < 1 {
		return nil, configError("processor count must be at least 1, got %d", processorCount)
	}

	system := e.SystemThreads(threads)
	if len(system) == 0 {
		return nil, newError(KindNoSystemThreads, "")
	}

	v := &Verdict{
		ProcessorCount: processorCount,
		SystemThreads:  len(system),
		LowConfidence:  processorCount < e.cfg.LowConfidenceProcessors,
	}

	for _, g := range GroupByStartAddress(system) {
		size := len(g.Threads)
		if size <= processorCount || size%processorCount != 0 {
			continue
		}

		c := Candidate{
			StartAddress: g.StartAddress,
			GroupSize:    size,
			NearbyCount:  e.countNearby(system, g.StartAddress),
		}
		v.Candidates = append(v.Candidates, c)
		if c.NearbyCount == e.cfg.ConfirmationCount {
			v.Detected = true
			v.Evidence = &v.Candidates[len(v.Candidates)-1]
			return v, nil
		}
	}

	return v, nil
}

// countNearby counts threads starting strictly below addr and less than
// ProximityWindow bytes away from it.
func (e *Engine) countNearby(system []ThreadRecord, addr uint64) int {
	n := 0
	for _, t := range system {
		if t.StartAddress < addr && addr-t.StartAddress < e.cfg.ProximityWindow {
			n++
		}
	}
	return n
}
