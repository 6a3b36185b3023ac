// Package harness runs pass scenarios against fixture programs.
//
// A scenario builds a main/startup training pair, annotates it with
// distributed placements, applies a sequence of passes and checks the
// rewritten programs.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: sgd_dp2
//	description: "Two ranks shard two parameters"
//	program:
//	  optimizer: sgd
//	  params:
//	    - {name: p0, shape: [10, 10]}
//	    - {name: p1, shape: [10, 10]}
//	annotations:
//	  meshes:
//	    dp: {shape: [2], process_ids: [0, 1]}
//	  tensors:
//	    x: {mesh: dp, dims_mapping: [0, -1]}
//	passes:
//	  - pass: auto_parallel_sharding
//	    attrs: {stage: 1, sharding_degree: 2, global_rank: 0}
//	assertions:
//	  - type: op_count
//	    program: main
//	    op: c_broadcast
//	    count: 2
//
// When a sharding pass omits params_grads, every fixture parameter is
// sharded.
//
// # Assertion Types
//
//   - op_count: an op type appears exactly count times in a program
//   - op_order: op types appear in the given order (gaps allowed)
//   - has_var: a variable is (present: true) or is not declared
//   - op_attr: the index-th op of a type carries an attribute value
//   - summary: a pass summary entry has a value
//   - pass_runs: the store recorded count runs for the main program
//
// # Deterministic Testing
//
// Every run uses fixed program ids, a step clock and a fresh in-memory
// store unless one is supplied, so the golden snapshot of a scenario is
// identical across runs.
package harness
