package synth

import (
	"fmt"
	"math"
)

const (
	// AmplitudeEnable turns on the digital gain stage of a channel.
	AmplitudeEnable = 0x8000

	frequencyBits  = 48
	frequencyMask  = 1<<frequencyBits - 1
	phaseFullScale = 0xFFFF
	gainFullScale  = 1<<11 - 1
	maxGain        = 2.0
)

// DefaultSampleRateMHz is the DAC clock of the EVM: the 122.88 MHz
// reference multiplied up by the on-chip PLL (1228.8 * 9 * 4 / 5).
const DefaultSampleRateMHz = 1228.8 * 9 * 4 / 5

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FrequencyWord converts an NCO frequency to its 48-bit phase increment,
// round(f / fs * 2^48). f must lie in [0, fs). A value that rounds up to
// 2^48 wraps to 0, which is the same output frequency.
func FrequencyWord(freqMHz, sampleRateMHz float64) (uint64, error) {
	if !finite(freqMHz) || !finite(sampleRateMHz) || sampleRateMHz <= 0 {
		return 0, fmt.Errorf("%w: frequency %v MHz at %v MHz sample rate", ErrOutOfRange, freqMHz, sampleRateMHz)
	}
	if freqMHz < 0 || freqMHz >= sampleRateMHz {
		return 0, fmt.Errorf("%w: frequency %v MHz outside [0, %v)", ErrOutOfRange, freqMHz, sampleRateMHz)
	}
	w := math.Round(freqMHz / sampleRateMHz * (1 << frequencyBits))
	return uint64(w) & frequencyMask, nil
}

// SplitWord48 returns bits 0-15, 16-31 and 32-47 of w.
func SplitWord48(w uint64) [3]uint16 {
	return [3]uint16{uint16(w), uint16(w >> 16), uint16(w >> 32)}
}

// JoinWord48 is the inverse of SplitWord48.
func JoinWord48(words [3]uint16) uint64 {
	return uint64(words[0]) | uint64(words[1])<<16 | uint64(words[2])<<32
}

// PhaseWord converts degrees to the 16-bit NCO phase offset,
// round(deg / 360 * 65535). Angles wrap modulo 360.
func PhaseWord(degrees float64) (uint16, error) {
	if !finite(degrees) {
		return 0, fmt.Errorf("%w: phase %v degrees", ErrOutOfRange, degrees)
	}
	d := math.Mod(degrees, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d -= 360
	}
	return uint16(math.Round(d / 360 * phaseFullScale)), nil
}

// AmplitudeWord converts a gain in [0, 2] to the gain register value,
// round(gain / 2 * 2047) with the enable flag set. Unity gain is 1024;
// above that the output enters a distortion regime but is accepted.
func AmplitudeWord(gain float64) (uint16, error) {
	if !finite(gain) || gain < 0 || gain > maxGain {
		return 0, fmt.Errorf("%w: gain %v outside [0, %v]", ErrOutOfRange, gain, maxGain)
	}
	return uint16(math.Round(gain/maxGain*gainFullScale)) | AmplitudeEnable, nil
}
