// Package system provides clock implementations for commentater.Clock.
package system

import (
	"time"

	"github.com/skairunner/commentater/internal/commentater"
)

var (
	_ commentater.Clock = Clock{}
	_ commentater.Clock = Fixed{}
)

// Clock reads the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant.
type Fixed struct {
	At time.Time
}

// Now returns f.At in UTC.
func (f Fixed) Now() time.Time {
	return f.At.UTC()
}
