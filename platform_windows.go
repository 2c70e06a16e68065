//go:build windows

package hvdetect

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// SYSTEM_INFORMATION_CLASS values.
const (
	systemProcessInformation int32 = 0x05
	systemModuleInformation  int32 = 0x0B
)

var (
	modkernel32                          = windows.NewLazySystemDLL("kernel32.dll")
	procGetLogicalProcessorInformationEx = modkernel32.NewProc("GetLogicalProcessorInformationEx")
)

func bufferPointer(buf []byte) unsafe.Pointer {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.Pointer(&buf[0])
}

// ntQuery adapts NtQuerySystemInformation for one information class.
// STATUS_INFO_LENGTH_MISMATCH means the buffer is too small; ReturnLength
// carries the required size on every call.
func ntQuery(class int32) QueryFunc {
	return func(buf []byte) QueryResult {
		var size uint32
		err := windows.NtQuerySystemInformation(class, bufferPointer(buf), uint32(len(buf)), &size)
		if err == nil {
			return QueryResult{Status: QuerySuccess, Size: size}
		}

		var status windows.NTStatus
		if !errors.As(err, &status) {
			return QueryResult{Status: QueryFailed}
		}
		if uint32(status) == STATUS_INFO_LENGTH_MISMATCH {
			return QueryResult{Status: QueryTooSmall, Size: size, Code: uint32(status)}
		}
		return QueryResult{Status: QueryFailed, Code: uint32(status)}
	}
}

var (
	processSnapshotQuery = ntQuery(systemProcessInformation)
	moduleQuery          = ntQuery(systemModuleInformation)
)

// ProcessSnapshotQuery fills buf with the SystemProcessInformation table.
func ProcessSnapshotQuery(buf []byte) QueryResult {
	return processSnapshotQuery(buf)
}

// ModuleQuery fills buf with the SystemModuleInformation table.
func ModuleQuery(buf []byte) QueryResult {
	return moduleQuery(buf)
}

// ProcessorTopologyQuery fills buf with RelationProcessorCore records from
// GetLogicalProcessorInformationEx. A FALSE return with
// ERROR_INSUFFICIENT_BUFFER means the buffer is too small and the in/out
// length holds the required size.
func ProcessorTopologyQuery(buf []byte) QueryResult {
	size := uint32(len(buf))
	r1, _, e1 := procGetLogicalProcessorInformationEx.Call(
		uintptr(RelationProcessorCore),
		uintptr(bufferPointer(buf)),
		uintptr(unsafe.Pointer(&size)),
	)
	if r1 != 0 {
		return QueryResult{Status: QuerySuccess, Size: size}
	}

	var errno syscall.Errno
	if !errors.As(e1, &errno) {
		return QueryResult{Status: QueryFailed}
	}
	if uint32(errno) == ERROR_INSUFFICIENT_BUFFER {
		return QueryResult{Status: QueryTooSmall, Size: size, Code: uint32(errno)}
	}
	return QueryResult{Status: QueryFailed, Code: uint32(errno)}
}

// Supported returns true if the host queries can be resolved.
func Supported() (bool, error) {
	if err := procGetLogicalProcessorInformationEx.Find(); err != nil {
		return false, err
	}
	return true, nil
}

// Elevated reports whether the current process token is elevated. Without
// elevation the process snapshot usually omits system threads.
func Elevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}

// HostVersion describes the running Windows build.
func HostVersion() string {
	v := windows.RtlGetVersion()
	return fmt.Sprintf("Windows %d.%d build %d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
}
