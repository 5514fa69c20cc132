package synth

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("controller closed")

	// ErrOutOfRange is returned for a frequency, phase or gain the
	// registers cannot represent.
	ErrOutOfRange = errors.New("quantity out of range")
)

// VerifyError is a configuration write whose read-back differs.
type VerifyError struct {
	Chip     Chip
	Index    int
	Address  uint32
	Expected uint32
	Actual   uint32
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s register 0x%04X: wrote 0x%X, read back 0x%X (entry %d)",
		e.Chip, e.Address, e.Expected, e.Actual, e.Index)
}
