package connkit

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Params carries named query parameters. The SQL text references them with
// the @ marker (SELECT ... WHERE id = @id); keys may be written with or
// without the leading @, which is stripped during normalization so both
// spellings bind to the same parameter.
type Params map[string]any

// normalize strips the @ marker from keys that carry it.
func (p Params) normalize() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[strings.TrimPrefix(k, "@")] = v
	}
	return out
}

// args converts the params into driver arguments. An empty or nil map
// yields no arguments so plain statements run without rewriting.
func (p Params) args() []any {
	if len(p) == 0 {
		return nil
	}
	return []any{pgx.NamedArgs(p.normalize())}
}

// Scalar executes a single-value query and coerces the result to T.
//
// Coercion is best-effort: an exact type match is returned as-is, numeric
// results convertible to T are converted, and as a documented special case
// a bool target accepts integer-like results with nonzero meaning true
// (some result rows carry 0/1 where a boolean is meant). A NULL or absent
// result yields the zero value of T with no error.
func Scalar[T any](ctx context.Context, c *Connection, sql string, params Params) (T, error) {
	var zero T

	raw, err := c.QueryScalarContext(ctx, sql, params)
	if err != nil {
		return zero, err
	}
	if raw == nil {
		return zero, nil
	}

	if v, ok := raw.(T); ok {
		return v, nil
	}

	target := reflect.TypeOf((*T)(nil)).Elem()

	if target.Kind() == reflect.Bool {
		switch n := raw.(type) {
		case int64:
			return any(n != 0).(T), nil
		case int32:
			return any(n != 0).(T), nil
		case int16:
			return any(n != 0).(T), nil
		case int:
			return any(n != 0).(T), nil
		}
	}

	rv := reflect.ValueOf(raw)
	if rv.Type().ConvertibleTo(target) {
		return rv.Convert(target).Interface().(T), nil
	}

	return zero, &Error{
		Code:    CodeInvalidOperation,
		Message: fmt.Sprintf("cannot coerce %T scalar result to %s", raw, target),
		Op:      "Scalar",
	}
}
