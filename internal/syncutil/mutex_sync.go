//go:build !deadlock

package syncutil

import "sync"

// Mutex is a sync.Mutex.
type Mutex struct {
	sync.Mutex
}

// RWMutex is a sync.RWMutex.
type RWMutex struct {
	sync.RWMutex
}
