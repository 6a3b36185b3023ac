package passes

import (
	"errors"
	"fmt"
)

// PassError reports a pass precondition that does not hold. The programs
// are unchanged when a PassError is returned.
type PassError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Pass is the registered name of the failing pass.
	Pass string

	// Message is a human-readable description.
	Message string
}

// ErrorCode categorizes pass precondition failures.
type ErrorCode string

const (
	// ErrCodeInvalidConfig: stage, degree, rank or parameter list out of range.
	ErrCodeInvalidConfig ErrorCode = "E301"

	// ErrCodeDuplicateParam: a parameter listed twice.
	ErrCodeDuplicateParam ErrorCode = "E302"

	// ErrCodeParamNotFound: a parameter missing from the main or startup program.
	ErrCodeParamNotFound ErrorCode = "E303"

	// ErrCodeInvalidParamShape: a parameter without a known positive element count.
	ErrCodeInvalidParamShape ErrorCode = "E304"

	// ErrCodeNoParallelGroup: no data-parallel group could be inferred.
	ErrCodeNoParallelGroup ErrorCode = "E305"

	// ErrCodeMultipleParallelGroups: more than one data-parallel group.
	ErrCodeMultipleParallelGroups ErrorCode = "E306"

	// ErrCodeGroupTooSmall: the data-parallel group is smaller than the degree.
	ErrCodeGroupTooSmall ErrorCode = "E307"

	// ErrCodeGroupNotDivisible: the degree does not divide the group size.
	ErrCodeGroupNotDivisible ErrorCode = "E308"

	// ErrCodeRankNotInGroup: the global rank is outside the group or mesh.
	ErrCodeRankNotInGroup ErrorCode = "E309"

	// ErrCodeNotEnoughParams: fewer parameters than sharding ranks.
	ErrCodeNotEnoughParams ErrorCode = "E310"

	// ErrCodeInvalidOptimizerOp: an optimizer op without exactly one Param.
	ErrCodeInvalidOptimizerOp ErrorCode = "E311"

	// ErrCodeUnknownOptimizerParam: an optimizer op updates an unlisted parameter.
	ErrCodeUnknownOptimizerParam ErrorCode = "E312"

	// ErrCodeMissingDistContext: the pass needs distributed annotations.
	ErrCodeMissingDistContext ErrorCode = "E313"
)

// Error implements the error interface.
func (e *PassError) Error() string {
	if e.Pass == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (pass=%s)", e.Code, e.Message, e.Pass)
}

func shardingError(code ErrorCode, format string, args ...any) *PassError {
	return &PassError{Code: code, Pass: ShardingPassName, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the PassError code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var pe *PassError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}

// IsPassError reports whether err carries a PassError.
func IsPassError(err error) bool {
	_, ok := CodeOf(err)
	return ok
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

func IsNoParallelGroup(err error) bool { return hasCode(err, ErrCodeNoParallelGroup) }

// IsMultipleParallelGroups returns true if more than one data-parallel
// group was inferred.
func IsMultipleParallelGroups(err error) bool { return hasCode(err, ErrCodeMultipleParallelGroups) }
