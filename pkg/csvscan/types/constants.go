package types

const (
	// DefaultSeparator is the field delimiter used when none is configured
	DefaultSeparator = ','

	// RecordDelimiter terminates every record
	RecordDelimiter = '\n'

	// DefaultBufferSize is the initial read buffer of a block reader
	DefaultBufferSize = 64 * 1024

	// DefaultSplitSize is the planner's split length when neither a size nor
	// a count is configured
	DefaultSplitSize = 64 * 1024 * 1024
)
