package framework

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/graphir/internal/ir"
)

// NameScope is a node of a program's name scope tree. Operators record the
// full path of the scope they were built in.
type NameScope struct {
	name     string
	parent   *NameScope
	children map[string][]*NameScope
}

func newRootScope() *NameScope {
	return &NameScope{children: make(map[string][]*NameScope)}
}

// Child creates a new child scope. The first child for a prefix is named
// prefix, later ones prefix_1, prefix_2 and so on.
func (s *NameScope) Child(prefix string) *NameScope {
	siblings := s.children[prefix]
	name := prefix
	if n := len(siblings); n > 0 {
		name = prefix + "_" + strconv.Itoa(n)
	}
	c := &NameScope{name: name, parent: s, children: make(map[string][]*NameScope)}
	s.children[prefix] = append(siblings, c)
	return c
}

func (s *NameScope) Name() string { return s.name }

// Parent returns the enclosing scope, nil for the root.
func (s *NameScope) Parent() *NameScope { return s.parent }

// Path returns the full scope path, "/" for the root and "/a/b/" below it.
func (s *NameScope) Path() string {
	var parts []string
	for c := s; c.parent != nil; c = c.parent {
		parts = append(parts, c.name)
	}
	if len(parts) == 0 {
		return "/"
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/") + "/"
}

// buildContext is the mutable state operators are stamped from.
type buildContext struct {
	role     ir.OpRole
	roleVars []string
	scope    *NameScope
	current  int
	relaxed  bool
}

func newBuildContext() buildContext {
	return buildContext{role: ir.RoleForward, scope: newRootScope()}
}

// CurrentRole returns the role stamped on newly built operators.
func (p *Program) CurrentRole() ir.OpRole { return p.ctx.role }

// CurrentRoleVars returns the op_role_var list stamped on new operators.
func (p *Program) CurrentRoleVars() []string { return slices.Clone(p.ctx.roleVars) }

// CurrentNameScope returns the scope new operators are recorded under.
func (p *Program) CurrentNameScope() *NameScope { return p.ctx.scope }

// RelaxedIntermediates reports whether unbound intermediate outputs are
// accepted.
func (p *Program) RelaxedIntermediates() bool { return p.ctx.relaxed }

// WithRole runs fn with role as the current role and an empty role var
// list. The previous context is restored when fn returns or panics.
func (p *Program) WithRole(role ir.OpRole, fn func() error) error {
	return p.withRole(role, nil, fn)
}

// WithBackwardRole runs fn under the backward role.
func (p *Program) WithBackwardRole(fn func() error) error {
	return p.withRole(ir.RoleBackward, nil, fn)
}

// WithOptimizeRole runs fn under the optimize role. paramAndGrads is
// recorded as op_role_var on every operator built inside.
func (p *Program) WithOptimizeRole(paramAndGrads []string, fn func() error) error {
	return p.withRole(ir.RoleOptimize, slices.Clone(paramAndGrads), fn)
}

// WithLRScheduleRole runs fn under the learning-rate schedule role,
// combined with the optimize role when that is the current role.
func (p *Program) WithLRScheduleRole(fn func() error) error {
	role := ir.RoleLRSched
	if p.ctx.role == ir.RoleOptimize {
		role |= ir.RoleOptimize
	}
	return p.withRole(role, nil, fn)
}

func (p *Program) withRole(role ir.OpRole, vars []string, fn func() error) error {
	prevRole, prevVars := p.ctx.role, p.ctx.roleVars
	p.ctx.role, p.ctx.roleVars = role, vars
	defer func() { p.ctx.role, p.ctx.roleVars = prevRole, prevVars }()
	return fn()
}

// WithNameScope runs fn inside a new child of the current name scope.
func (p *Program) WithNameScope(prefix string, fn func() error) error {
	if prefix == "" {
		return errors.New("name scope prefix must not be empty")
	}
	prev := p.ctx.scope
	p.ctx.scope = prev.Child(prefix)
	defer func() { p.ctx.scope = prev }()
	return fn()
}

// WithRelaxedIntermediates runs fn with intermediate outputs optional.
func (p *Program) WithRelaxedIntermediates(fn func() error) error {
	prev := p.ctx.relaxed
	p.ctx.relaxed = true
	defer func() { p.ctx.relaxed = prev }()
	return fn()
}
