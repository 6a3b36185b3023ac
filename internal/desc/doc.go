// Package desc is the canonical backing description of a program.
//
// A ProgramDesc is a plain tree of blocks, variables and operators that any
// subsystem may mutate directly. It is the single source of truth: the
// entity graph in package framework mirrors it and is rebuilt from it by
// reconciliation.
//
// Every operator carries a stable integer handle, unique within its
// program and never reused. Every mutation bumps the program's version
// counter, which lets mirrors detect that they are stale. A description
// serializes to a versioned, checksummed binary blob (see codec.go).
//
// Descriptions are not safe for concurrent mutation.
package desc
