package hvdetect

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func TestDecodeThreadTable(t *testing.T) {
	full := ThreadRecord{
		ThreadID:        8,
		StartAddress:    0xFFFFF8025A3B1C40,
		KernelTime:      1562500,
		UserTime:        0,
		CreateTime:      133420000000000000,
		WaitTime:        0x1234,
		Priority:        13,
		BasePriority:    8,
		ContextSwitches: 4711,
		ThreadState:     5,
		WaitReason:      15,
	}

	tests := []struct {
		name  string
		procs []processFixture
	}{
		{
			name:  "single process",
			procs: []processFixture{{pid: 4, threads: []ThreadRecord{full}}},
		},
		{
			name: "interleaved processes",
			procs: []processFixture{
				{pid: 0, threads: threadsAt(0, 2, 0)},
				{pid: 4, threads: threadsAt(0xFFFFF80000001000, 5, 8)},
				{pid: 1234, threads: threadsAt(0x7FF6A0001000, 1, 1240)},
				{pid: 4321, threads: threadsAt(0x7FF6B0002000, 3, 4330)},
			},
		},
		{
			name: "zero-thread processes",
			procs: []processFixture{
				{pid: 100},
				{pid: 4, threads: threadsAt(0xFFFFF80000001000, 2, 8)},
				{pid: 200},
				{pid: 300, threads: threadsAt(0x7FF6A0001000, 1, 304)},
				{pid: 400},
			},
		},
		{
			name: "padding between blocks",
			procs: []processFixture{
				{pid: 4, threads: threadsAt(0xFFFFF80000001000, 3, 8), padding: 0x38},
				{pid: 500, threads: threadsAt(0x7FF6A0001000, 2, 504), padding: 0x10},
				{pid: 600, threads: []ThreadRecord{full}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeThreadTable(buildProcessTable(tt.procs))
			if err != nil {
				t.Fatalf("DecodeThreadTable() error = %v", err)
			}
			want := expectedThreads(tt.procs)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("DecodeThreadTable() =\n%+v\nwant\n%+v", got, want)
			}
		})
	}
}

func TestDecodeThreadTableFields(t *testing.T) {
	// One System process block with a single thread, fields laid out by hand.
	data := make([]byte, ProcessHeaderSize+ThreadRecordSize)
	binary.LittleEndian.PutUint32(data[0x04:], 1) // NumberOfThreads
	binary.LittleEndian.PutUint64(data[0x50:], 4) // UniqueProcessId
	thread := data[ProcessHeaderSize:]
	binary.LittleEndian.PutUint64(thread[0x20:], 0xFFFFF8025A3B1C40) // StartAddress
	binary.LittleEndian.PutUint64(thread[0x28:], 4)                  // ClientId.UniqueProcess
	binary.LittleEndian.PutUint64(thread[0x30:], 0x1A4)              // ClientId.UniqueThread
	binary.LittleEndian.PutUint32(thread[0x44:], 5)                  // ThreadState (Waiting)

	got, err := DecodeThreadTable(data)
	if err != nil {
		t.Fatalf("DecodeThreadTable() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d threads, want 1", len(got))
	}
	want := ThreadRecord{ProcessID: 4, ThreadID: 0x1A4, StartAddress: 0xFFFFF8025A3B1C40, ThreadState: 5}
	if got[0] != want {
		t.Errorf("got %+v, want %+v", got[0], want)
	}
}

func TestDecodeThreadTableInsufficientData(t *testing.T) {
	sizes := []int{0, 1, ThreadRecordSize, ProcessHeaderSize, ProcessHeaderSize + ThreadRecordSize - 1}
	for _, size := range sizes {
		_, err := DecodeThreadTable(make([]byte, size))
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("DecodeThreadTable(%d bytes) error = %v, want ErrInsufficientData", size, err)
		}
	}
}

func TestDecodeThreadTableBounds(t *testing.T) {
	procs := []processFixture{
		{pid: 4, threads: threadsAt(0xFFFFF80000001000, 3, 8)},
		{pid: 500, threads: threadsAt(0x7FF6A0001000, 2, 504)},
	}

	t.Run("huge thread count", func(t *testing.T) {
		data := buildProcessTable(procs[:1])
		binary.LittleEndian.PutUint32(data[processNumberOfThreads:], 0xFFFFFFFF)

		got, err := DecodeThreadTable(data)
		if err != nil {
			t.Fatalf("DecodeThreadTable() error = %v", err)
		}
		if !reflect.DeepEqual(got, expectedThreads(procs[:1])) {
			t.Errorf("got %d threads, want the 3 encoded ones", len(got))
		}
	})

	t.Run("huge next entry offset", func(t *testing.T) {
		data := buildProcessTable(procs)
		binary.LittleEndian.PutUint32(data[processNextEntryOffset:], 0xFFFFFFF0)

		got, err := DecodeThreadTable(data)
		if err != nil {
			t.Fatalf("DecodeThreadTable() error = %v", err)
		}
		if !reflect.DeepEqual(got, expectedThreads(procs[:1])) {
			t.Errorf("got %d threads, want only the first block", len(got))
		}
	})

	t.Run("truncated second block", func(t *testing.T) {
		data := buildProcessTable(procs)
		data = data[:len(data)-8]

		got, err := DecodeThreadTable(data)
		if err != nil {
			t.Fatalf("DecodeThreadTable() error = %v", err)
		}
		want := expectedThreads(procs)[:4]
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %d threads, want %d", len(got), len(want))
		}
	})

	t.Run("next entry lands in a partial header", func(t *testing.T) {
		data := buildProcessTable(procs[:1])
		binary.LittleEndian.PutUint32(data[processNextEntryOffset:], uint32(len(data)-ThreadRecordSize))

		got, err := DecodeThreadTable(data)
		if err != nil {
			t.Fatalf("DecodeThreadTable() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("got %d threads, want 3", len(got))
		}
	})
}

func TestDecodeThreadTableOwnerMismatch(t *testing.T) {
	threads := threadsAt(0xFFFFF80000001000, 2, 8)
	threads[1].ProcessID = 999
	data := buildProcessTable([]processFixture{{pid: 4, threads: threads}})

	_, err := DecodeThreadTable(data)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("DecodeThreadTable() error = %v, want ErrMalformed", err)
	}
}
