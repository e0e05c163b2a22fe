package device

import "fmt"

// Mem is an in-memory Device implementation for tests and as a reference
// backend. Erased blocks read back as 0xFF, matching flash semantics.
type Mem struct {
	blockSize  int
	blockCount uint32
	data       []byte
}

// NewMem creates an in-memory device with the given geometry, fully erased.
func NewMem(blockCount uint32, blockSize int) (*Mem, error) {
	if blockCount == 0 || blockSize <= 0 {
		return nil, fmt.Errorf("device: invalid geometry %d x %d", blockCount, blockSize)
	}
	m := &Mem{
		blockSize:  blockSize,
		blockCount: blockCount,
		data:       make([]byte, int(blockCount)*blockSize),
	}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	return m, nil
}

// BlockCount returns the number of addressable blocks.
func (m *Mem) BlockCount() uint32 { return m.blockCount }

// BlockSize returns the block size in bytes.
func (m *Mem) BlockSize() int { return m.blockSize }

// ReadBlocks implements Device.
func (m *Mem) ReadBlocks(start uint32, count int, p []byte) error {
	if err := CheckRange(m, start, count); err != nil {
		return err
	}
	if err := checkBuffer(m, count, p); err != nil {
		return err
	}
	off := int(start) * m.blockSize
	copy(p, m.data[off:off+count*m.blockSize])
	return nil
}

// WriteBlocks implements Device.
func (m *Mem) WriteBlocks(start uint32, count int, p []byte) error {
	if err := CheckRange(m, start, count); err != nil {
		return err
	}
	if err := checkBuffer(m, count, p); err != nil {
		return err
	}
	off := int(start) * m.blockSize
	copy(m.data[off:off+count*m.blockSize], p)
	return nil
}

// EraseBlocks implements Eraser.
func (m *Mem) EraseBlocks(start uint32, count int) error {
	if err := CheckRange(m, start, count); err != nil {
		return err
	}
	off := int(start) * m.blockSize
	end := off + count*m.blockSize
	for i := off; i < end; i++ {
		m.data[i] = 0xFF
	}
	return nil
}
