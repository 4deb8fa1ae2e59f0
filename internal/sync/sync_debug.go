//go:build deadlock

// Package sync lets the device's lock-heavy packages swap in deadlock
// detection. Build with -tags deadlock to enable it.
package sync

import (
	"os"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Mutex reports lock waits longer than the detection timeout.
type Mutex = deadlock.Mutex

// RWMutex reports lock waits longer than the detection timeout.
type RWMutex = deadlock.RWMutex

// Once is the standard sync.Once.
type Once = sync.Once

// WaitGroup is the standard sync.WaitGroup.
type WaitGroup = sync.WaitGroup

func init() {
	// The queue lock is held across publisher calls, so leave room for a
	// slow signal subscriber before reporting.
	deadlock.Opts.DeadlockTimeout = 30 * time.Second

	if os.Getenv("PRESSD_NO_DEADLOCK_DETECT") != "" {
		deadlock.Opts.Disable = true
		return
	}

	deadlock.Opts.PrintAllCurrentGoroutines = true
	deadlock.Opts.LogBuf = os.Stderr

	println("[DEADLOCK DETECTION ENABLED] queue, process and subscription locks are instrumented")
}
