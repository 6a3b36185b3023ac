package framework

import (
	"errors"
	"fmt"
	"strings"
)

// IRError is returned when constructing or editing the entity graph would
// violate an operator schema or a scoping rule. The program is left
// unchanged when an IRError is returned.
type IRError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operator type involved, if any.
	Op string

	// Slot is the input, output or attribute slot involved, if any.
	Slot string

	// Var is the variable name involved, if any.
	Var string

	// Message is a human-readable description.
	Message string
}

// ErrorCode categorizes IR construction errors.
type ErrorCode string

const (
	// ErrCodeUnknownOperatorType: the registry has no schema for the type.
	ErrCodeUnknownOperatorType ErrorCode = "E201"

	// ErrCodeUnknownSlot: an input or output slot the schema does not declare.
	ErrCodeUnknownSlot ErrorCode = "E202"

	// ErrCodeMissingRequiredInput: a non-dispensable slot was left unbound.
	ErrCodeMissingRequiredInput ErrorCode = "E203"

	// ErrCodeArityViolation: a non-duplicable slot bound to several variables.
	ErrCodeArityViolation ErrorCode = "E204"

	// ErrCodeAttrTypeMismatch: an attribute value does not fit its declared type.
	ErrCodeAttrTypeMismatch ErrorCode = "E205"

	// ErrCodeUnknownAttribute: an attribute the schema does not declare.
	ErrCodeUnknownAttribute ErrorCode = "E206"

	// ErrCodeMissingAttribute: a required attribute without default is unset.
	ErrCodeMissingAttribute ErrorCode = "E207"

	// ErrCodeConflictingRedeclaration: a name redeclared with different metadata.
	ErrCodeConflictingRedeclaration ErrorCode = "E208"

	// ErrCodeInvalidParameterShape: a parameter shape with unknown dimensions.
	ErrCodeInvalidParameterShape ErrorCode = "E209"

	// ErrCodeVariableNotFound: a name that does not resolve lexically.
	ErrCodeVariableNotFound ErrorCode = "E210"

	// ErrCodeInvalidProgram: a structural problem found by Validate.
	ErrCodeInvalidProgram ErrorCode = "E211"
)

// Error implements the error interface.
func (e *IRError) Error() string {
	var ctx []string
	if e.Op != "" {
		ctx = append(ctx, "op="+e.Op)
	}
	if e.Slot != "" {
		ctx = append(ctx, "slot="+e.Slot)
	}
	if e.Var != "" {
		ctx = append(ctx, "var="+e.Var)
	}
	if len(ctx) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(ctx, ", "))
}

// CodeOf returns the IRError code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var ie *IRError
	if errors.As(err, &ie) {
		return ie.Code, true
	}
	return "", false
}

func hasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsUnknownOperatorType returns true if the operator type has no schema.
// Uses errors.As to handle wrapped errors.
func IsUnknownOperatorType(err error) bool { return hasCode(err, ErrCodeUnknownOperatorType) }

func IsUnknownSlot(err error) bool { return hasCode(err, ErrCodeUnknownSlot) }

// IsMissingRequiredInput returns true if a mandatory input or output slot
// was left unbound.
func IsMissingRequiredInput(err error) bool { return hasCode(err, ErrCodeMissingRequiredInput) }

// IsArityViolation returns true if a single-valued slot got several args.
func IsArityViolation(err error) bool { return hasCode(err, ErrCodeArityViolation) }

// IsAttrTypeMismatch returns true if an attribute value had the wrong type
// or did not fit the declared width.
func IsAttrTypeMismatch(err error) bool { return hasCode(err, ErrCodeAttrTypeMismatch) }

func IsUnknownAttribute(err error) bool { return hasCode(err, ErrCodeUnknownAttribute) }

func IsMissingAttribute(err error) bool { return hasCode(err, ErrCodeMissingAttribute) }

// IsConflictingRedeclaration returns true if a name was redeclared with
// different metadata.
func IsConflictingRedeclaration(err error) bool {
	return hasCode(err, ErrCodeConflictingRedeclaration)
}

func IsInvalidParameterShape(err error) bool { return hasCode(err, ErrCodeInvalidParameterShape) }

func IsVariableNotFound(err error) bool { return hasCode(err, ErrCodeVariableNotFound) }

func IsInvalidProgram(err error) bool { return hasCode(err, ErrCodeInvalidProgram) }
