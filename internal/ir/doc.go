// Package ir provides the foundational value types of the graph IR.
//
// This package holds type definitions only: operator roles, variable kinds,
// attribute types and the closed attribute sum type. All other internal
// packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Attr is sealed. Only the types in attr.go implement it.
//   - Variable and block references inside attributes are weak: a variable
//     is referenced by name and a block by its index in the program.
//   - Canonical JSON and content hashes are the only serializations used
//     for identity (fingerprints, config hashes).
package ir
