package device

import "sync/atomic"

// Faulty wraps a Device, counting operations and optionally injecting
// errors. It exists for tests that need to assert how many transfers the
// cache issued, or to exercise error paths without a flaky backend.
type Faulty struct {
	Dev Device

	// Fault hooks are consulted before each operation. A non-nil return is
	// given to the caller and the operation never reaches Dev. Nil hooks
	// pass through.
	ReadFault  func(start uint32, count int) error
	WriteFault func(start uint32, count int) error
	EraseFault func(start uint32, count int) error

	reads  atomic.Int64
	writes atomic.Int64
	erases atomic.Int64
}

// NewFaulty wraps dev with pass-through behavior and zeroed counters.
func NewFaulty(dev Device) *Faulty {
	return &Faulty{Dev: dev}
}

// Reads returns the number of ReadBlocks calls that reached this wrapper.
func (f *Faulty) Reads() int64 { return f.reads.Load() }

// Writes returns the number of WriteBlocks calls that reached this wrapper.
func (f *Faulty) Writes() int64 { return f.writes.Load() }

// Erases returns the number of EraseBlocks calls that reached this wrapper.
func (f *Faulty) Erases() int64 { return f.erases.Load() }

// ResetCounters zeroes the operation counters.
func (f *Faulty) ResetCounters() {
	f.reads.Store(0)
	f.writes.Store(0)
	f.erases.Store(0)
}

// BlockCount implements Device.
func (f *Faulty) BlockCount() uint32 { return f.Dev.BlockCount() }

// BlockSize implements Device.
func (f *Faulty) BlockSize() int { return f.Dev.BlockSize() }

// ReadBlocks implements Device.
func (f *Faulty) ReadBlocks(start uint32, count int, p []byte) error {
	f.reads.Add(1)
	if f.ReadFault != nil {
		if err := f.ReadFault(start, count); err != nil {
			return err
		}
	}
	return f.Dev.ReadBlocks(start, count, p)
}

// WriteBlocks implements Device.
func (f *Faulty) WriteBlocks(start uint32, count int, p []byte) error {
	f.writes.Add(1)
	if f.WriteFault != nil {
		if err := f.WriteFault(start, count); err != nil {
			return err
		}
	}
	return f.Dev.WriteBlocks(start, count, p)
}

// EraseBlocks implements Eraser. If the wrapped device does not erase, the
// call is a no-op so tests can use Faulty around any backend.
func (f *Faulty) EraseBlocks(start uint32, count int) error {
	f.erases.Add(1)
	if f.EraseFault != nil {
		if err := f.EraseFault(start, count); err != nil {
			return err
		}
	}
	if er, ok := f.Dev.(Eraser); ok {
		return er.EraseBlocks(start, count)
	}
	return nil
}
