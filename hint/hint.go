// Package hint carries externally supplied sharding values in a context.Context.
// Hint values take precedence over values found in the SQL for the table they name.
package hint

import (
	"context"
	"strings"
)

type hintKey struct{}

type values struct {
	database     map[string][]interface{}
	table        map[string][]interface{}
	forcePrimary bool
}

func from(ctx context.Context) *values {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(hintKey{}).(*values)
	return v
}

func clone(v *values) *values {
	out := &values{database: map[string][]interface{}{}, table: map[string][]interface{}{}}
	if v == nil {
		return out
	}
	for k, x := range v.database {
		out.database[k] = x
	}
	for k, x := range v.table {
		out.table[k] = x
	}
	out.forcePrimary = v.forcePrimary
	return out
}

// WithDatabaseValues sets the database sharding values of a logic table.
func WithDatabaseValues(ctx context.Context, table string, vals ...interface{}) context.Context {
	v := clone(from(ctx))
	v.database[strings.ToLower(table)] = vals
	return context.WithValue(ctx, hintKey{}, v)
}

// WithTableValues sets the table sharding values of a logic table.
func WithTableValues(ctx context.Context, table string, vals ...interface{}) context.Context {
	v := clone(from(ctx))
	v.table[strings.ToLower(table)] = vals
	return context.WithValue(ctx, hintKey{}, v)
}

// WithPrimary forces read-write splitting to use the primary datasource.
func WithPrimary(ctx context.Context) context.Context {
	v := clone(from(ctx))
	v.forcePrimary = true
	return context.WithValue(ctx, hintKey{}, v)
}

func DatabaseValues(ctx context.Context, table string) ([]interface{}, bool) {
	v := from(ctx)
	if v == nil {
		return nil, false
	}
	vals, ok := v.database[strings.ToLower(table)]
	return vals, ok
}

func TableValues(ctx context.Context, table string) ([]interface{}, bool) {
	v := from(ctx)
	if v == nil {
		return nil, false
	}
	vals, ok := v.table[strings.ToLower(table)]
	return vals, ok
}

func IsPrimaryForced(ctx context.Context) bool {
	v := from(ctx)
	return v != nil && v.forcePrimary
}
