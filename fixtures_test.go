package hvdetect

import "encoding/binary"

// processFixture is one process block of a synthetic snapshot buffer.
type processFixture struct {
	pid     uint64
	threads []ThreadRecord
	padding int // extra bytes after the thread table, covered by NextEntryOffset
}

func encodeThread(b []byte, t ThreadRecord) {
	le := binary.LittleEndian
	le.PutUint64(b[threadKernelTime:], uint64(t.KernelTime))
	le.PutUint64(b[threadUserTime:], uint64(t.UserTime))
	le.PutUint64(b[threadCreateTime:], uint64(t.CreateTime))
	le.PutUint32(b[threadWaitTime:], t.WaitTime)
	le.PutUint64(b[threadStartAddress:], t.StartAddress)
	le.PutUint64(b[threadClientIDProcess:], t.ProcessID)
	le.PutUint64(b[threadClientIDThread:], t.ThreadID)
	le.PutUint32(b[threadPriority:], uint32(t.Priority))
	le.PutUint32(b[threadBasePriority:], uint32(t.BasePriority))
	le.PutUint32(b[threadContextSwitches:], t.ContextSwitches)
	le.PutUint32(b[threadThreadState:], t.ThreadState)
	le.PutUint32(b[threadWaitReason:], t.WaitReason)
}

// buildProcessTable lays out procs the way SystemProcessInformation does.
// Thread ProcessIDs of zero are filled in from the owning block.
func buildProcessTable(procs []processFixture) []byte {
	var out []byte
	for i, p := range procs {
		blockLen := ProcessHeaderSize + len(p.threads)*ThreadRecordSize + p.padding
		block := make([]byte, blockLen)

		next := uint32(blockLen)
		if i == len(procs)-1 {
			next = 0
		}
		binary.LittleEndian.PutUint32(block[processNextEntryOffset:], next)
		binary.LittleEndian.PutUint32(block[processNumberOfThreads:], uint32(len(p.threads)))
		binary.LittleEndian.PutUint64(block[processUniqueProcessID:], p.pid)

		for j, t := range p.threads {
			if t.ProcessID == 0 {
				t.ProcessID = p.pid
			}
			encodeThread(block[ProcessHeaderSize+j*ThreadRecordSize:], t)
		}
		out = append(out, block...)
	}
	return out
}

// expectedThreads flattens procs with the same ProcessID fill-in.
func expectedThreads(procs []processFixture) []ThreadRecord {
	var out []ThreadRecord
	for _, p := range procs {
		for _, t := range p.threads {
			if t.ProcessID == 0 {
				t.ProcessID = p.pid
			}
			out = append(out, t)
		}
	}
	return out
}

// threadsAt returns n threads starting at addr with sequential thread IDs.
func threadsAt(addr uint64, n int, firstTID uint64) []ThreadRecord {
	out := make([]ThreadRecord, n)
	for i := range out {
		out[i] = ThreadRecord{ThreadID: firstTID + uint64(i), StartAddress: addr}
	}
	return out
}

// systemThreads is threadsAt owned by the System process.
func systemThreads(addr uint64, n int, firstTID uint64) []ThreadRecord {
	out := threadsAt(addr, n, firstTID)
	for i := range out {
		out[i].ProcessID = DefaultSystemProcessID
	}
	return out
}

type topologyFixture struct {
	relationship uint32
	size         uint32
	flags        byte
}

func buildTopology(records []topologyFixture) []byte {
	var out []byte
	for _, r := range records {
		rec := make([]byte, r.size)
		binary.LittleEndian.PutUint32(rec[topologyRelationshipOffset:], r.relationship)
		binary.LittleEndian.PutUint32(rec[topologySizeOffset:], r.size)
		if len(rec) > topologyFlagsOffset {
			rec[topologyFlagsOffset] = r.flags
		}
		out = append(out, rec...)
	}
	return out
}

// coreRecord is a RelationProcessorCore record with one GROUP_AFFINITY.
func coreRecord(smt bool) topologyFixture {
	r := topologyFixture{relationship: RelationProcessorCore, size: 0x30}
	if smt {
		r.flags = 1
	}
	return r
}

type moduleFixture struct {
	base     uint64
	size     uint32
	path     string
	fileName int // OffsetToFileName
}

func buildModuleTable(mods []moduleFixture) []byte {
	out := make([]byte, moduleTableHeaderSize+len(mods)*ModuleRecordSize)
	binary.LittleEndian.PutUint32(out, uint32(len(mods)))
	for i, m := range mods {
		rec := out[moduleTableHeaderSize+i*ModuleRecordSize:]
		binary.LittleEndian.PutUint64(rec[moduleImageBase:], m.base)
		binary.LittleEndian.PutUint32(rec[moduleImageSize:], m.size)
		binary.LittleEndian.PutUint16(rec[moduleOffsetToFileName:], uint16(m.fileName))
		copy(rec[moduleFullPathName:moduleFullPathName+moduleFullPathLen-1], m.path)
	}
	return out
}

// fixedQuery serves data through the too-small/retry protocol: it reports
// the required size until handed a large enough buffer.
func fixedQuery(data []byte) QueryFunc {
	return func(buf []byte) QueryResult {
		if len(buf) < len(data) {
			return QueryResult{Status: QueryTooSmall, Size: uint32(len(data)), Code: STATUS_INFO_LENGTH_MISMATCH}
		}
		copy(buf, data)
		return QueryResult{Status: QuerySuccess, Size: uint32(len(data))}
	}
}

func failingQuery(code uint32) QueryFunc {
	return func([]byte) QueryResult {
		return QueryResult{Status: QueryFailed, Code: code}
	}
}
