package domain

import (
	"fmt"
	"time"
)

// Filter selects records from a Layer. A nil Filter matches everything.
type Filter[T Record] interface {
	Match(rec T) bool
}

// FilterFunc adapts a plain function to Filter.
type FilterFunc[T Record] func(rec T) bool

// Match implements Filter.
func (f FilterFunc[T]) Match(rec T) bool { return f(rec) }

// Op is a comparison operator used by Condition.
type Op string

// Supported operators.
const (
	OpEq     Op = "=="
	OpNe     Op = "!="
	OpLt     Op = "<"
	OpLe     Op = "<="
	OpGt     Op = ">"
	OpGe     Op = ">="
	OpIsNull Op = "is null"
)

// Condition compares a named attribute against a value.
type Condition struct {
	Attr  string
	Op    Op
	Value any
}

func (c Condition) String() string {
	if c.Op == OpIsNull {
		return c.Attr + " is null"
	}
	return fmt.Sprintf("%s %s %v", c.Attr, c.Op, c.Value)
}

func Eq(attr string, v any) Condition { return Condition{Attr: attr, Op: OpEq, Value: v} }
func Ne(attr string, v any) Condition { return Condition{Attr: attr, Op: OpNe, Value: v} }
func Lt(attr string, v any) Condition { return Condition{Attr: attr, Op: OpLt, Value: v} }
func Le(attr string, v any) Condition { return Condition{Attr: attr, Op: OpLe, Value: v} }
func Gt(attr string, v any) Condition { return Condition{Attr: attr, Op: OpGt, Value: v} }
func Ge(attr string, v any) Condition { return Condition{Attr: attr, Op: OpGe, Value: v} }
func IsNull(attr string) Condition    { return Condition{Attr: attr, Op: OpIsNull} }

// Where returns a filter matching records that satisfy every condition.
// Ordered comparisons against a null attribute never match.
func Where[T Record](conds ...Condition) Filter[T] {
	return FilterFunc[T](func(rec T) bool {
		attrs := rec.Attributes()
		for _, c := range conds {
			if !c.holds(attrs[c.Attr]) {
				return false
			}
		}
		return true
	})
}

// MatchAll applies filter, treating nil as match-everything.
func MatchAll[T Record](filter Filter[T], rec T) bool {
	return filter == nil || filter.Match(rec)
}

func (c Condition) holds(v any) bool {
	if c.Op == OpIsNull {
		return v == nil
	}
	if v == nil || c.Value == nil {
		switch c.Op {
		case OpEq:
			return v == nil && c.Value == nil
		case OpNe:
			return (v == nil) != (c.Value == nil)
		}
		return false
	}
	cmp, ok := compare(v, c.Value)
	if !ok {
		return c.Op == OpNe
	}
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func compare(a, b any) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if na, ok := number(a); ok {
		nb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case va < vb:
			return -1, true
		case va > vb:
			return 1, true
		}
		return 0, true
	case bool:
		vb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if va == vb {
			return 0, true
		}
		if !va {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case ProposalID:
		return float64(n), true
	case LayerID:
		return float64(n), true
	case ProposalStatus:
		return float64(n), true
	case MembershipAction:
		return float64(n), true
	}
	return 0, false
}
