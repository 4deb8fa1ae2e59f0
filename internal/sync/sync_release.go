//go:build !deadlock

// Package sync lets the device's lock-heavy packages swap in deadlock
// detection. Build with -tags deadlock to enable it; the default build
// aliases the standard library.
package sync

import "sync"

// Mutex is the standard sync.Mutex.
type Mutex = sync.Mutex

// RWMutex is the standard sync.RWMutex.
type RWMutex = sync.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup
