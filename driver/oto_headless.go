//go:build headless

package driver

import "time"

// Oto is unavailable in headless builds.
type Oto struct{}

// NewOto returns a driver whose Start always fails.
func NewOto(Config) *Oto { return &Oto{} }

func (*Oto) Start(func(out [][]float32)) error { return ErrUnavailable }

func (*Oto) Stop(time.Duration) error { return nil }
