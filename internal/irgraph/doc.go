// Package irgraph is a node-and-edge view of a program's global block.
//
// Variables and operators become nodes. Every write of a variable produces
// a new version node, and a control-dependency node orders each earlier
// reader of a version before the op that overwrites it, so any
// topological order of the graph is a valid execution order.
//
// A Graph is detached from the program it was built from: edits go
// through the Graph API and ToProgram materializes a new program.
package irgraph
