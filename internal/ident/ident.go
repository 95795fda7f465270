// Package ident allocates row ids and short display identifiers for table records.
package ident

import (
	"math/rand/v2"
	"sync"
)

const (
	shortIDLen      = 8
	shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Allocator hands out monotonically increasing row ids for one table.
// The zero value is ready to use and starts at 1.
type Allocator struct {
	mu  sync.Mutex
	max uint64
}

// NewAllocator returns an allocator whose next id is max+1.
func NewAllocator(max uint64) *Allocator {
	return &Allocator{max: max}
}

// Next returns the tracked maximum plus one and advances the maximum.
func (a *Allocator) Next() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.max++
	return a.max
}

// Observe raises the tracked maximum to id if id is larger. Used while
// loading a table so allocation resumes at max(row_id)+1.
func (a *Allocator) Observe(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id > a.max {
		a.max = id
	}
}

// Max reports the highest id seen or allocated so far.
func (a *Allocator) Max() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.max
}

// ShortID draws 8 characters uniformly from [a-z0-9].
func ShortID() string {
	b := make([]byte, shortIDLen)
	for i := range b {
		b[i] = shortIDAlphabet[rand.IntN(len(shortIDAlphabet))]
	}
	return string(b)
}

// UniqueShortID draws short ids until taken reports no collision.
// Uniqueness only holds against what taken knows about.
func UniqueShortID(taken func(string) bool) string {
	id := ShortID()
	for taken != nil && taken(id) {
		id = ShortID()
	}
	return id
}
