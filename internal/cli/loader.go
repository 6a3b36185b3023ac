package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/graphir/internal/distributed"
	"github.com/roach88/graphir/internal/framework"
	"github.com/roach88/graphir/internal/schema"
)

// ProgramExt is the extension of program files written by the CLI. A
// program file holds the binary description blob.
const ProgramExt = ".gir"

// LoadError represents an error that occurred while loading an input.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}

// loadRegistry returns the built-in operator registry, extended with the
// schemas of opts.Schemas when set.
func loadRegistry(opts *RootOptions) (*schema.Registry, error) {
	if opts.Schemas == "" {
		return schema.Default(), nil
	}
	extra, err := schema.LoadDir(opts.Schemas)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Path: opts.Schemas, Message: err.Error()}
	}
	reg, err := schema.Default().Extend(extra...)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Path: opts.Schemas, Message: err.Error()}
	}
	return reg, nil
}

// readProgram loads a program file.
func readProgram(path string, reg *schema.Registry) (*framework.Program, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: "program file not found"}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: err.Error()}
	}
	p, err := framework.ParseProgram(data, reg)
	if err != nil {
		return nil, &LoadError{Code: errorCode(err, ErrCodeBadInput), Path: path, Message: err.Error()}
	}
	return p, nil
}

// writeProgram stores p at path, creating parent directories.
func writeProgram(p *framework.Program, path string) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.ID(), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// readAnnotations loads an annotations file.
func readAnnotations(path string) (*distributed.Annotations, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: "annotations file not found"}
	}
	a, err := distributed.LoadAnnotations(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadInput, Path: path, Message: err.Error()}
	}
	return a, nil
}
