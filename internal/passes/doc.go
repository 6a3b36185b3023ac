// Package passes holds program transformation passes and the registry
// they are looked up in.
//
// A pass rewrites a main/startup program pair in place through the
// framework API. Passes check every precondition before mutating
// anything, so a pass that returns an error leaves both programs exactly
// as they were.
package passes
