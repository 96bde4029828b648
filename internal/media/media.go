// Package media stores item photos. Items keep a reference of the form
// "<scheme>:<key>", so photos written by an earlier backend stay readable
// after switching to another one.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no image exists for a reference.
var ErrNotFound = errors.New("image not found")

// Store is one place images can live.
type Store interface {
	// Scheme prefixes every reference this store hands out.
	Scheme() string
	Put(ctx context.Context, itemID string, data []byte, mime string) (key string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Library writes to a primary store and reads from any registered one.
type Library struct {
	primary Store
	stores  map[string]Store
}

// NewLibrary creates a library writing to primary. Extra stores are only
// read from.
func NewLibrary(primary Store, others ...Store) *Library {
	l := &Library{primary: primary, stores: map[string]Store{}}
	for _, s := range append([]Store{primary}, others...) {
		l.stores[s.Scheme()] = s
	}
	return l
}

// Put stores an image for an item and returns its reference.
func (l *Library) Put(ctx context.Context, itemID string, data []byte, mime string) (string, error) {
	key, err := l.primary.Put(ctx, itemID, data, mime)
	if err != nil {
		return "", err
	}
	return l.primary.Scheme() + ":" + key, nil
}

// Get loads an image by reference.
func (l *Library) Get(ctx context.Context, ref string) ([]byte, error) {
	scheme, key, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	s, ok := l.stores[scheme]
	if !ok {
		return nil, fmt.Errorf("no image store for scheme %q", scheme)
	}
	return s.Get(ctx, key)
}

// ParseRef splits a reference into scheme and key.
func ParseRef(ref string) (scheme, key string, err error) {
	scheme, key, ok := strings.Cut(ref, ":")
	if !ok || scheme == "" || key == "" {
		return "", "", fmt.Errorf("invalid image reference %q", ref)
	}
	return scheme, key, nil
}
