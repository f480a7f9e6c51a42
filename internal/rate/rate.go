// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rate provides the compaction I/O rate limiter spec.md §4.10 calls
// for: a token bucket shared across a compaction's reads and writes so disk
// bandwidth stays bounded.
package rate

import (
	"sync"
	"time"

	"github.com/cockroachdb/tokenbucket"
)

// A Limiter controls how frequently bytes may be read or written. It
// implements a token bucket of size b, initially full and refilled at rate
// r tokens (bytes) per second.
//
// Limiter is thread-safe.
type Limiter struct {
	mu struct {
		sync.Mutex
		tb    tokenbucket.TokenBucket
		rate  float64
		burst float64
	}
	sleepFn func(d time.Duration)
}

// NewLimiter returns a new Limiter that allows up to rate r bytes/sec and
// permits bursts of at most b bytes.
func NewLimiter(r float64, b float64) *Limiter {
	l := &Limiter{}
	l.mu.tb.Init(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(b))
	l.mu.rate = r
	l.mu.burst = b
	return l
}

// NewLimiterWithCustomTime is NewLimiter with injectable time sources, for
// tests that need deterministic rate-limiting behavior.
func NewLimiterWithCustomTime(
	r float64, b float64, nowFn func() time.Time, sleepFn func(d time.Duration),
) *Limiter {
	l := &Limiter{}
	l.mu.tb.InitWithNowFn(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(b), nowFn)
	l.mu.rate = r
	l.mu.burst = b
	l.sleepFn = sleepFn
	return l
}

// Wait blocks until n tokens are available. If n exceeds the burst size,
// the bucket goes into debt, delaying future callers rather than this one
// indefinitely.
func (l *Limiter) Wait(n float64) {
	for {
		l.mu.Lock()
		ok, d := l.mu.tb.TryToFulfill(tokenbucket.Tokens(n))
		l.mu.Unlock()
		if ok {
			return
		}
		if l.sleepFn != nil {
			l.sleepFn(d)
		} else {
			time.Sleep(d)
		}
	}
}

// Remove charges n tokens for an operation that bypassed Wait, without
// blocking; it can put the bucket into debt.
func (l *Limiter) Remove(n float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mu.tb.Adjust(-tokenbucket.Tokens(n))
}

// Rate returns the current rate limit in bytes/sec.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.rate
}

// SetRate updates the rate limit, in bytes per second, keeping the current
// burst size.
func (l *Limiter) SetRate(r float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mu.tb.UpdateConfig(tokenbucket.TokensPerSecond(r), tokenbucket.Tokens(l.mu.burst))
	l.mu.rate = r
}
