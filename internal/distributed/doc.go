// Package distributed holds the auto-parallel annotations of programs:
// process meshes, tensor and operator dims mappings, and the registry of
// communication groups that passes allocate ring ids from.
//
// Annotations live in a DistContext keyed by program id plus variable
// name or operator handle, so they survive reconciliation and never hold
// pointers into the entity graph.
package distributed
