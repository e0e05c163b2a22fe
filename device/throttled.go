package device

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled wraps a Device with a byte-rate limit. It models slow buses
// (SPI-attached cards, USB bridges) in tests and benchmarks, and can bound
// the background I/O pressure a cache puts on a shared device.
type Throttled struct {
	dev     Device
	limiter *rate.Limiter
}

// NewThrottled limits transfers through dev to bytesPerSec, which must be at
// least 1. The burst is one full multi-block transfer so large contiguous
// writes are not starved.
func NewThrottled(dev Device, bytesPerSec int) (*Throttled, error) {
	if bytesPerSec < 1 {
		return nil, fmt.Errorf("device: rate must be at least 1 byte/s, got %d", bytesPerSec)
	}
	burst := bytesPerSec
	if min := dev.BlockSize() * int(dev.BlockCount()); burst > min && min > 0 {
		// Burst never needs to exceed the whole device.
		burst = min
	}
	return &Throttled{
		dev:     dev,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
	}, nil
}

// BlockCount implements Device.
func (t *Throttled) BlockCount() uint32 { return t.dev.BlockCount() }

// BlockSize implements Device.
func (t *Throttled) BlockSize() int { return t.dev.BlockSize() }

// ReadBlocks implements Device.
func (t *Throttled) ReadBlocks(start uint32, count int, p []byte) error {
	if err := t.wait(count); err != nil {
		return err
	}
	return t.dev.ReadBlocks(start, count, p)
}

// WriteBlocks implements Device.
func (t *Throttled) WriteBlocks(start uint32, count int, p []byte) error {
	if err := t.wait(count); err != nil {
		return err
	}
	return t.dev.WriteBlocks(start, count, p)
}

// EraseBlocks implements Eraser; erases are not rate limited since they
// transfer no payload.
func (t *Throttled) EraseBlocks(start uint32, count int) error {
	if er, ok := t.dev.(Eraser); ok {
		return er.EraseBlocks(start, count)
	}
	return nil
}

func (t *Throttled) wait(blocks int) error {
	n := blocks * t.dev.BlockSize()
	if n <= 0 {
		return nil
	}
	// Transfers larger than the burst are admitted in burst-sized slices.
	for n > 0 {
		chunk := n
		if chunk > t.limiter.Burst() {
			chunk = t.limiter.Burst()
		}
		if err := t.limiter.WaitN(context.Background(), chunk); err != nil {
			return fmt.Errorf("device: rate limit: %w", err)
		}
		n -= chunk
	}
	return nil
}
