package hvdetect

// ProcessQueryName identifies the process snapshot query in errors.
const ProcessQueryName = "NtQuerySystemInformation(SystemProcessInformation)"

// 64-bit SYSTEM_PROCESS_INFORMATION and SYSTEM_THREAD_INFORMATION layouts.
// ref: https://www.geoffchappell.com/studies/windows/km/ntoskrnl/api/ex/sysinfo/process.htm
const (
	ProcessHeaderSize = 0x100
	ThreadRecordSize  = 0x50

	processNextEntryOffset = 0x00
	processNumberOfThreads = 0x04
	processUniqueProcessID = 0x50
	threadKernelTime       = 0x00
	threadUserTime         = 0x08
	threadCreateTime       = 0x10
	threadWaitTime         = 0x18
	threadStartAddress     = 0x20
	threadClientIDProcess  = 0x28
	threadClientIDThread   = 0x30
	threadPriority         = 0x38
	threadBasePriority     = 0x3C
	threadContextSwitches  = 0x40
	threadThreadState      = 0x44
	threadWaitReason       = 0x48
)

// ThreadRecord is one decoded SYSTEM_THREAD_INFORMATION entry. Only
// ProcessID and StartAddress feed the heuristic; the rest is informational.
type ThreadRecord struct {
	ProcessID       uint64 `json:"process_id"`
	ThreadID        uint64 `json:"thread_id"`
	StartAddress    uint64 `json:"start_address"`
	KernelTime      int64  `json:"kernel_time"`
	UserTime        int64  `json:"user_time"`
	CreateTime      int64  `json:"create_time"`
	WaitTime        uint32 `json:"wait_time"`
	Priority        int32  `json:"priority"`
	BasePriority    int32  `json:"base_priority"`
	ContextSwitches uint32 `json:"context_switches"`
	ThreadState     uint32 `json:"thread_state"`
	WaitReason      uint32 `json:"wait_reason"`
}

func decodeThread(b []byte) ThreadRecord {
	return ThreadRecord{
		KernelTime:      int64(hostByteOrder.Uint64(b[threadKernelTime:])),
		UserTime:        int64(hostByteOrder.Uint64(b[threadUserTime:])),
		CreateTime:      int64(hostByteOrder.Uint64(b[threadCreateTime:])),
		WaitTime:        hostByteOrder.Uint32(b[threadWaitTime:]),
		StartAddress:    hostByteOrder.Uint64(b[threadStartAddress:]),
		ProcessID:       hostByteOrder.Uint64(b[threadClientIDProcess:]),
		ThreadID:        hostByteOrder.Uint64(b[threadClientIDThread:]),
		Priority:        int32(hostByteOrder.Uint32(b[threadPriority:])),
		BasePriority:    int32(hostByteOrder.Uint32(b[threadBasePriority:])),
		ContextSwitches: hostByteOrder.Uint32(b[threadContextSwitches:]),
		ThreadState:     hostByteOrder.Uint32(b[threadThreadState:]),
		WaitReason:      hostByteOrder.Uint32(b[threadWaitReason:]),
	}
}

// DecodeThreadTable flattens a process snapshot buffer into its thread
// records, in buffer order. Each process block is a header followed inline
// by NumberOfThreads thread records; NextEntryOffset is relative to the
// header and zero marks the last block.
//
// Decoding stops once no full thread record fits before the end of data,
// whatever the header fields claim.
func DecodeThreadTable(data []byte) ([]ThreadRecord, error) {
	if len(data) < ProcessHeaderSize+ThreadRecordSize {
		return nil, newError(KindInsufficientData, ProcessQueryName)
	}

	var threads []ThreadRecord
	end := uint64(len(data))
	cursor := uint64(0)

walk:
	for cursor+ThreadRecordSize <= end {
		if cursor+ProcessHeaderSize > end {
			break
		}
		header := data[cursor : cursor+ProcessHeaderSize]
		nextEntry := uint64(hostByteOrder.Uint32(header[processNextEntryOffset:]))
		numThreads := hostByteOrder.Uint32(header[processNumberOfThreads:])
		pid := hostByteOrder.Uint64(header[processUniqueProcessID:])

		// next block is relative to this header, not to the end of its threads
		next := cursor + nextEntry
		cursor += ProcessHeaderSize

		for i := uint32(0); i < numThreads; i++ {
			if cursor+ThreadRecordSize > end {
				break walk
			}
			thread := decodeThread(data[cursor : cursor+ThreadRecordSize])
			if thread.ProcessID != pid {
				return nil, newError(KindMalformed, ProcessQueryName)
			}
			threads = append(threads, thread)
			cursor += ThreadRecordSize
		}

		if nextEntry == 0 {
			break
		}
		cursor = next
	}

	recordDecodedThreads(len(threads))
	return threads, nil
}
