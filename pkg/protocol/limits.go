package protocol

// Allocation limits to prevent DoS attacks via malicious length prefixes.
const (
	// DefaultMaxAllocation is the default maximum allocation size (4MB).
	DefaultMaxAllocation = 4 * 1024 * 1024

	// HardMaxAllocation is the absolute ceiling for allocations (16MB).
	// Even if configured higher, allocations are capped at this limit.
	HardMaxAllocation = 16 * 1024 * 1024

	// MaxCollectionCount is the maximum number of items in a sequence.
	// This prevents OOM from huge counts with small per-item overhead.
	MaxCollectionCount = 100_000
)

// DecoderLimits bounds what a single Decoder will allocate.
// Use DefaultDecoderLimits() for sensible defaults.
type DecoderLimits struct {
	// MaxAllocation caps a single string or byte payload.
	MaxAllocation int

	// MaxCollection caps the element count of a single sequence.
	MaxCollection int
}

// DefaultDecoderLimits returns the default limits.
func DefaultDecoderLimits() DecoderLimits {
	return DecoderLimits{
		MaxAllocation: DefaultMaxAllocation,
		MaxCollection: MaxCollectionCount,
	}
}

// normalize clamps limits into (0, hard ceiling].
func (l DecoderLimits) normalize() DecoderLimits {
	if l.MaxAllocation <= 0 {
		l.MaxAllocation = DefaultMaxAllocation
	}
	if l.MaxAllocation > HardMaxAllocation {
		l.MaxAllocation = HardMaxAllocation
	}
	if l.MaxCollection <= 0 {
		l.MaxCollection = MaxCollectionCount
	}
	return l
}
