// Package clock abstracts the current time so token expiry logic can be
// tested deterministically.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by time.Now.
func System() Clock { return systemClock{} }
