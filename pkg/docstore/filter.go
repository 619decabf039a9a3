package docstore

import (
	"fmt"
	"reflect"
	"time"
)

type Op uint8

const (
	OpEq Op = iota + 1
	OpIn
	OpGt
	OpLt
)

func (o Op) sql() string {
	switch o {
	case OpEq:
		return "="
	case OpIn:
		return "IN"
	case OpGt:
		return ">"
	case OpLt:
		return "<"
	}
	return "?"
}

// Filter restricts a query or subscription to documents whose field
// satisfies Op against Value. Field is the column name.
type Filter struct {
	Field  string
	Op     Op
	Value  any
	Values []any
}

func Eq(field string, v any) Filter { return Filter{Field: field, Op: OpEq, Value: v} }

func Gt(field string, v any) Filter { return Filter{Field: field, Op: OpGt, Value: v} }

func Lt(field string, v any) Filter { return Filter{Field: field, Op: OpLt, Value: v} }

func In[V any](field string, vs ...V) Filter {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = v
	}
	return Filter{Field: field, Op: OpIn, Values: values}
}

func (f Filter) clause() (string, any) {
	if f.Op == OpIn {
		return fmt.Sprintf("%s IN ?", f.Field), f.Values
	}
	return fmt.Sprintf("%s %s ?", f.Field, f.Op.sql()), f.Value
}

// matches evaluates f against a field value taken from a document.
func (f Filter) matches(v any) bool {
	switch f.Op {
	case OpEq:
		return equal(v, f.Value)
	case OpIn:
		for _, want := range f.Values {
			if equal(v, want) {
				return true
			}
		}
		return false
	case OpGt:
		c, ok := compare(v, f.Value)
		return ok && c > 0
	case OpLt:
		c, ok := compare(v, f.Value)
		return ok && c < 0
	}
	return false
}

func equal(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) {
		return a == b
	}
	// Named string types compare equal to plain strings.
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.String && vb.Kind() == reflect.String {
		return va.String() == vb.String()
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
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case va.CanInt() && vb.CanInt():
		return cmp3(va.Int(), vb.Int()), true
	case va.CanFloat() && vb.CanFloat():
		return cmp3(va.Float(), vb.Float()), true
	case va.Kind() == reflect.String && vb.Kind() == reflect.String:
		return cmp3(va.String(), vb.String()), true
	}
	return 0, false
}

func cmp3[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
