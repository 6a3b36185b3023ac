package desc

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ParseDType accepts both the enum spelling ("Float32") and the common
// lower-case aliases ("float32", "f32").
func ParseDType(s string) (dtypes.DType, error) {
	if dt, err := dtypes.DTypeString(s); err == nil {
		return dt, nil
	}
	if dt, ok := dtypes.MapOfNames[s]; ok {
		return dt, nil
	}
	if dt, ok := dtypes.MapOfNames[strings.ToLower(s)]; ok {
		return dt, nil
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype %q", s)
}

// NumElements returns the product of shape's dimensions. ok is false when
// a dimension is unknown (negative).
func NumElements(shape []int64) (n int64, ok bool) {
	n = 1
	for _, d := range shape {
		if d < 0 {
			return 0, false
		}
		n *= d
	}
	return n, true
}
