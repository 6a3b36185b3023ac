package ir

// Version constants for the IR and its binary description.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// DescFormatVersion is the version of the binary program description.
	DescFormatVersion = 1

	// ToolVersion is the graphir tool version.
	ToolVersion = "0.1.0"
)
