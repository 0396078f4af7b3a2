//go:build !headless

package driver

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/shaban/pluginhost/internal/testutil"
)

func TestOto_ReadInterleaves(t *testing.T) {
	o := NewOto(Config{SampleRate: 48000, BufferSize: 16, Channels: 2})
	o.cycle = func(out [][]float32) {
		for i := range out[0] {
			out[0][i] = 0.5
			out[1][i] = -0.5
		}
	}

	p := make([]byte, 8*4) // 4 frames
	n, err := o.Read(p)
	if err != nil || n != len(p) {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	left := math.Float32frombits(binary.LittleEndian.Uint32(p[0:]))
	right := math.Float32frombits(binary.LittleEndian.Uint32(p[4:]))
	if left != 0.5 || right != -0.5 {
		t.Fatalf("want 0.5/-0.5, got %v/%v", left, right)
	}
}

func TestOto_SilentWithoutCycle(t *testing.T) {
	o := NewOto(Config{BufferSize: 16})
	p := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := o.Read(p); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, b := range p {
		if b != 0 {
			t.Fatalf("byte %d not silent", i)
		}
	}
}

// Opens the real audio device.
func TestOto_Device(t *testing.T) {
	testutil.SkipUnlessEnv(t, "PLUGINHOST_AUDIO", "1")
	if testutil.IsCI() {
		t.Skip("no audio device on CI")
	}
	o := NewOto(Config{SampleRate: 48000, BufferSize: 256})
	if err := o.Start(func(out [][]float32) {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := o.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
