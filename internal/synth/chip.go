package synth

import (
	"fmt"
	"strings"
)

// Chip selects one of the two serial buses.
type Chip int

const (
	// ChipClock is the LMK04828 clock distribution chip.
	ChipClock Chip = iota
	// ChipConverter is the DAC38RF8x, addressed through the page map.
	ChipConverter
)

func (c Chip) String() string {
	switch c {
	case ChipClock:
		return "lmk"
	case ChipConverter:
		return "dac"
	default:
		return fmt.Sprintf("chip(%d)", int(c))
	}
}

// ParseChip accepts "lmk"/"clock" and "dac"/"converter".
func ParseChip(s string) (Chip, error) {
	switch strings.ToLower(s) {
	case "lmk", "clock":
		return ChipClock, nil
	case "dac", "converter":
		return ChipConverter, nil
	default:
		return 0, fmt.Errorf("unknown chip: %s", s)
	}
}

// Channel is one of the two NCO outputs.
type Channel int

const (
	ChannelA Channel = iota
	ChannelB
)

// Channels lists every output in order.
var Channels = []Channel{ChannelA, ChannelB}

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "a"
	case ChannelB:
		return "b"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(s) {
	case "a", "0":
		return ChannelA, nil
	case "b", "1":
		return ChannelB, nil
	default:
		return 0, fmt.Errorf("unknown channel: %s", s)
	}
}

// page returns the multi-DUC page that holds the channel's NCO registers.
func (c Channel) page() (uint32, error) {
	switch c {
	case ChannelA:
		return pageDUC1, nil
	case ChannelB:
		return pageDUC2, nil
	default:
		return 0, fmt.Errorf("unknown channel: %d", int(c))
	}
}

func (c Channel) reg(offset uint32) (uint32, error) {
	p, err := c.page()
	if err != nil {
		return 0, err
	}
	return p<<8 | offset, nil
}
