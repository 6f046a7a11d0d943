package httpclient

import (
	"context"
	"reflect"
	"sync"
)

// Extensions is a per-request property bag keyed by Go type.
//
// Middlewares use it to pass trace ids, log configuration, credentials and
// mock responders through the chain without changing signatures. A bag
// belongs to exactly one request.
type Extensions struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// NewExtensions returns an empty bag.
func NewExtensions() *Extensions {
	return &Extensions{values: make(map[reflect.Type]any)}
}

// SetExtension stores v under its type, replacing any previous value.
func SetExtension[T any](ext *Extensions, v T) {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	ext.values[reflect.TypeFor[T]()] = v
}

// SetExtensionIfAbsent stores v only if no value of type T exists.
// It reports whether v was stored.
func SetExtensionIfAbsent[T any](ext *Extensions, v T) bool {
	ext.mu.Lock()
	defer ext.mu.Unlock()
	key := reflect.TypeFor[T]()
	if _, ok := ext.values[key]; ok {
		return false
	}
	ext.values[key] = v
	return true
}

// GetExtension returns the value stored under type T.
func GetExtension[T any](ext *Extensions) (T, bool) {
	var zero T
	if ext == nil {
		return zero, false
	}
	ext.mu.RLock()
	defer ext.mu.RUnlock()
	v, ok := ext.values[reflect.TypeFor[T]()]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// HasExtension reports whether a value of type T is stored.
func HasExtension[T any](ext *Extensions) bool {
	_, ok := GetExtension[T](ext)
	return ok
}

// RemoveExtension deletes and returns the value stored under type T.
func RemoveExtension[T any](ext *Extensions) (T, bool) {
	var zero T
	ext.mu.Lock()
	defer ext.mu.Unlock()
	key := reflect.TypeFor[T]()
	v, ok := ext.values[key]
	if !ok {
		return zero, false
	}
	delete(ext.values, key)
	return v.(T), true
}

// Len returns the number of stored values.
func (e *Extensions) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.values)
}

type extensionsKey struct{}

// ContextWithExtensions attaches ext to ctx.
func ContextWithExtensions(ctx context.Context, ext *Extensions) context.Context {
	return context.WithValue(ctx, extensionsKey{}, ext)
}

// ExtensionsFromContext returns the bag attached to ctx, or nil.
func ExtensionsFromContext(ctx context.Context) *Extensions {
	if ext, ok := ctx.Value(extensionsKey{}).(*Extensions); ok {
		return ext
	}
	return nil
}

// Initialiser prepares a fresh bag before a request enters the chain.
type Initialiser interface {
	Init(ext *Extensions)
}

// InitialiserFunc adapts a function to Initialiser.
type InitialiserFunc func(ext *Extensions)

func (f InitialiserFunc) Init(ext *Extensions) { f(ext) }
