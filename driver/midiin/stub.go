//go:build !portmidi

package midiin

import "context"

// Input is unavailable without the portmidi build tag.
type Input struct{}

// Open always fails with ErrUnavailable.
func Open(Config, Sink) (*Input, error) { return nil, ErrUnavailable }

func (*Input) Run(context.Context) error { return ErrUnavailable }

func (*Input) Close() error { return nil }
