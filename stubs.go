//go:build !windows

package hvdetect

// ERROR_NOT_SUPPORTED is reported by every host query off Windows.
const ERROR_NOT_SUPPORTED uint32 = 0x00000032

func unsupportedQuery([]byte) QueryResult {
	return QueryResult{Status: QueryFailed, Code: ERROR_NOT_SUPPORTED}
}

// ProcessSnapshotQuery always fails on non-Windows platforms.
func ProcessSnapshotQuery(buf []byte) QueryResult { return unsupportedQuery(buf) }

// ProcessorTopologyQuery always fails on non-Windows platforms.
func ProcessorTopologyQuery(buf []byte) QueryResult { return unsupportedQuery(buf) }

// ModuleQuery always fails on non-Windows platforms.
func ModuleQuery(buf []byte) QueryResult { return unsupportedQuery(buf) }

// Supported returns false on non-Windows platforms.
func Supported() (bool, error) {
	return false, ErrNotSupported
}

// Elevated returns false on non-Windows platforms.
func Elevated() bool {
	return false
}

// HostVersion returns an empty string on non-Windows platforms.
func HostVersion() string {
	return ""
}
