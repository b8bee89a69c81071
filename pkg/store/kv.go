// Package store provides the small key-value contract wallet state is kept
// behind, with in-memory and SQLite implementations.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("store: key not found")

// Batch collects writes applied atomically by KV.Batch.
type Batch interface {
	Put(key string, value []byte)
	Delete(key string)
}

// KV is the get/put/atomic-batch contract.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys with the given prefix in sorted order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Batch runs fn and applies its writes all together, or none of them
	// if fn returns an error.
	Batch(ctx context.Context, fn func(Batch) error) error
}

// Namespace scopes keys so different owners cannot collide.
type Namespace string

// Key returns "<NS>_<key>".
func (ns Namespace) Key(key string) string { return string(ns) + "_" + key }

// Prefix returns the prefix shared by every key in ns.
func (ns Namespace) Prefix() string { return string(ns) + "_" }

// Strip removes the namespace prefix from a full key.
func (ns Namespace) Strip(full string) string { return strings.TrimPrefix(full, ns.Prefix()) }

type op struct {
	key    string
	value  []byte
	delete bool
}

// opBatch records operations in order; both backends replay it.
type opBatch struct {
	ops []op
}

func (b *opBatch) Put(key string, value []byte) {
	b.ops = append(b.ops, op{key: key, value: append([]byte(nil), value...)})
}

func (b *opBatch) Delete(key string) {
	b.ops = append(b.ops, op{key: key, delete: true})
}
