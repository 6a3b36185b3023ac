package ir

import "fmt"

// VarKind is the storage kind of a variable.
type VarKind uint8

const (
	KindDenseTensor VarKind = iota
	KindSelectedRows
	KindTensorArray
	KindReader
	KindRaw
	KindStepScopes
	KindFeedMinibatch
	KindFetchList
)

var varKindNames = [...]string{
	KindDenseTensor:   "lod_tensor",
	KindSelectedRows:  "selected_rows",
	KindTensorArray:   "lod_tensor_array",
	KindReader:        "reader",
	KindRaw:           "raw",
	KindStepScopes:    "step_scopes",
	KindFeedMinibatch: "feed_minibatch",
	KindFetchList:     "fetch_list",
}

func (k VarKind) String() string {
	if int(k) < len(varKindNames) {
		return varKindNames[k]
	}
	return fmt.Sprintf("VarKind(%d)", uint8(k))
}

// ParseVarKind parses the name produced by VarKind.String.
func ParseVarKind(s string) (VarKind, error) {
	for i, name := range varKindNames {
		if name == s {
			return VarKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown variable kind %q", s)
}

// HasTensorMeta reports whether variables of this kind carry shape and dtype.
func (k VarKind) HasTensorMeta() bool {
	switch k {
	case KindDenseTensor, KindSelectedRows, KindTensorArray:
		return true
	}
	return false
}

// GradSuffix is appended to a variable name to form its gradient's name.
const GradSuffix = "@GRAD"

// GradVarName returns the gradient variable name for name.
func GradVarName(name string) string {
	return name + GradSuffix
}
