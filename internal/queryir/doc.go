// Package queryir is the query representation for the program history
// store.
//
// A query reads explicit columns of one history table, filtered by a
// conjunction of field comparisons:
//
//	Select{
//	  From:    PassRuns,
//	  Columns: []string{"id", "pass", "error_code"},
//	  Filter: And{Predicates: []Predicate{
//	    Equals{Field: "main_program", Value: ir.String("train-main")},
//	    NotEquals{Field: "error_code", Value: ir.String("")},
//	  }},
//	}
//
// Query and Predicate are sealed: only types in this package implement
// them, so backends can switch over them exhaustively.
//
// Rows always come back in sequence order of the table (seq for program
// versions, id for pass runs), never in timestamp order. Literal values
// are restricted to ir.Bool, ir.Int64 and ir.String.
package queryir
