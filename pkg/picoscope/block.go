package picoscope

import (
	"encoding/binary"
	"fmt"
)

const (
	// BlockSize is the encoded size of a timing block.
	BlockSize = 16
	// MaxPoints is the capacity of the peripheral's capture buffer.
	MaxPoints = 120000
	// FullScale is the largest 12-bit ADC code.
	FullScale = 4095
)

// Block is the timing register layout shared by the probe and drive
// endpoints. All times are in microseconds. The wire format is four
// little-endian uint32 fields in declaration order:
//
//	offset 0  Delay
//	offset 4  High
//	offset 8  Low
//	offset 12 Points (zero for the drive endpoint)
type Block struct {
	Delay  uint32
	High   uint32
	Low    uint32
	Points uint32
}

// MarshalBinary encodes the block in its 16 byte wire format.
func (b Block) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:], b.Delay)
	binary.LittleEndian.PutUint32(buf[4:], b.High)
	binary.LittleEndian.PutUint32(buf[8:], b.Low)
	binary.LittleEndian.PutUint32(buf[12:], b.Points)
	return buf, nil
}

// UnmarshalBinary decodes a block from its 16 byte wire format.
func (b *Block) UnmarshalBinary(data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("invalid block length: expected %d bytes, got %d", BlockSize, len(data))
	}
	b.Delay = binary.LittleEndian.Uint32(data[0:])
	b.High = binary.LittleEndian.Uint32(data[4:])
	b.Low = binary.LittleEndian.Uint32(data[8:])
	b.Points = binary.LittleEndian.Uint32(data[12:])
	return nil
}

func (b Block) String() string {
	return fmt.Sprintf("%d %d %d %d", b.Delay, b.High, b.Low, b.Points)
}
