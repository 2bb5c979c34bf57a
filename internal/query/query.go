// Package query compiles CEL expressions into record filters. Every fixed
// attribute of the record type is declared as a variable; the complete
// attribute map, including free-form properties, is available as attrs.
package query

import (
	"sort"
	"sync"

	"github.com/go-faster/errors"
	"github.com/google/cel-go/cel"

	"tomscore/pkg/domain"
)

// AttrsVar names the variable holding the full attribute map.
const AttrsVar = "attrs"

// Expr is a compiled filter expression over records of type T.
type Expr[T domain.Record] struct {
	source string
	vars   []string
	prg    cel.Program

	mu      sync.Mutex
	lastErr error
}

var _ domain.Filter[domain.Restriction] = (*Expr[domain.Restriction])(nil)

// Compile parses and type-checks expr. Eval rejects non-boolean results.
func Compile[T domain.Record](expr string) (*Expr[T], error) {
	var zero T
	vars := attributeNames(zero)
	opts := make([]cel.EnvOption, 0, len(vars)+1)
	opts = append(opts, cel.Variable(AttrsVar, cel.MapType(cel.StringType, cel.DynType)))
	for _, name := range vars {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create CEL env")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile %q", expr)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "CEL program")
	}
	return &Expr[T]{source: expr, vars: vars, prg: prg}, nil
}

// String returns the expression source.
func (e *Expr[T]) String() string { return e.source }

// Eval evaluates the expression against rec.
func (e *Expr[T]) Eval(rec T) (bool, error) {
	attrs := rec.Attributes()
	activation := make(map[string]any, len(e.vars)+1)
	for _, name := range e.vars {
		activation[name] = attrs[name]
	}
	activation[AttrsVar] = attrs
	out, _, err := e.prg.Eval(activation)
	if err != nil {
		return false, errors.Wrapf(err, "eval %q", e.source)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("expression %q did not return bool", e.source)
	}
	return matched, nil
}

// Match implements domain.Filter. Evaluation errors, such as ordering a
// null date, count as no match; see Err.
func (e *Expr[T]) Match(rec T) bool {
	ok, err := e.Eval(rec)
	if err != nil {
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		return false
	}
	return ok
}

// Err returns the most recent evaluation error seen by Match.
func (e *Expr[T]) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func attributeNames(rec domain.Record) []string {
	attrs := rec.Attributes()
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if name == AttrsVar {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
