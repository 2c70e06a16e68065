package hvdetect

// Defaults tuned to the VMBUS driver layout on the reference host.
const (
	DefaultMaxAttempts             = 100
	DefaultProximityWindow         = 0x2000
	DefaultConfirmationCount       = 2
	DefaultSystemProcessID         = 4
	DefaultLowConfidenceProcessors = 3
)

// Config holds the fixed heuristic constants. Tests and the CLI may
// override them; DefaultConfig reproduces the reference behaviour.
type Config struct {
	// MaxAttempts caps the query calls made while negotiating one buffer.
	MaxAttempts int
	// ProximityWindow is how far below a candidate start address an
	// auxiliary thread may begin and still count as confirmation.
	ProximityWindow uint64
	// ConfirmationCount is the exact number of auxiliary threads required.
	ConfirmationCount int
	// SystemProcessID is the owning process of kernel driver threads.
	SystemProcessID uint64
	// LowConfidenceProcessors flags processor counts below it as low confidence.
	LowConfidenceProcessors int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:             DefaultMaxAttempts,
		ProximityWindow:         DefaultProximityWindow,
		ConfirmationCount:       DefaultConfirmationCount,
		SystemProcessID:         DefaultSystemProcessID,
		LowConfidenceProcessors: DefaultLowConfidenceProcessors,
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return configError("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.ProximityWindow == 0 {
		return configError("proximity window must be non-zero")
	}
	if c.ConfirmationCount < 1 {
		return configError("confirmation count must be at least 1, got %d", c.ConfirmationCount)
	}
	if c.LowConfidenceProcessors < 0 {
		return configError("low confidence processor threshold must not be negative, got %d", c.LowConfidenceProcessors)
	}
	return nil
}
