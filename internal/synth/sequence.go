package synth

// Converter pages.
const (
	pageDUC1    = 0x1
	pageDUC2    = 0x2
	pageDUCBoth = pageDUC1 | pageDUC2
)

// Page-relative NCO registers, identical on both multi-DUC pages.
const (
	regPhase       = 0x1C
	regPhaseCD     = 0x1D
	regFrequency   = 0x1E // three words, LSW first
	regFrequencyCD = 0x21 // three words
	regNCOUpdate   = 0x28
	regGain        = 0x32
)

// Trigger: writing the update register of both DUC pages through
// baseline, baseline|strobe, baseline latches all staged NCO words.
const (
	triggerRegister = pageDUCBoth<<8 | regNCOUpdate
	triggerBaseline = 0x0330
	triggerStrobe   = 0x0002
)

// Step is one scripted register write.
type Step struct {
	Chip    Chip
	Address uint32
	Value   uint32
}

func lmk(addr, value uint32) Step { return Step{Chip: ChipClock, Address: addr, Value: value} }
func dac(addr, value uint32) Step { return Step{Chip: ChipConverter, Address: addr, Value: value} }

func concat(groups ...[]Step) []Step {
	var out []Step
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// sysrefPulse arms the LMK04828 SYSREF path and issues one SYNC pulse.
var sysrefPulse = []Step{
	lmk(0x0139, 0x00), // SYSREF mux: normal sync
	lmk(0x0143, 0x11), // SYNC enabled, pin mode
	lmk(0x0144, 0x7E),
	lmk(0x0144, 0x7C),
	lmk(0x0143, 0x31), // toggle SYNC polarity: pulse
	lmk(0x0143, 0x11),
	lmk(0x0144, 0xFC),
	lmk(0x0144, 0xFD),
	lmk(0x0144, 0xFF), // all dividers excluded from SYNC again
	lmk(0x0139, 0x03), // SYSREF mux: continuous
	lmk(0x010E, 0x70),
	lmk(0x0106, 0x70),
}

// converterReset takes the DAC PLL and digital blocks through reset with
// SYSREF gating off.
var converterReset = []Step{
	dac(0x0124, 0x00),
	dac(0x0224, 0x00),
	dac(0x015C, 0x00),
	dac(0x025C, 0x00),
	dac(0x040A, 0xFC03), // PLL in reset
	dac(0x040A, 0x7C03), // PLL running
	dac(0x0000, 0x5801),
	dac(0x0000, 0x5803),
}

// converterSync routes SYSREF to both DUCs and releases the digital reset.
var converterSync = []Step{
	dac(0x0124, 0x30),
	dac(0x0224, 0x20),
	dac(0x015C, 0x02),
	dac(0x025C, 0x03),
	dac(0x0000, 0x5801),
	dac(0x0000, 0x5800),
}

// sysrefOutputsOn powers the SYSREF outputs towards the DAC.
var sysrefOutputsOn = []Step{
	lmk(0x010E, 0x71),
	lmk(0x0106, 0x71),
}

// ncoSync strobes the NCO update on each channel once.
var ncoSync = []Step{
	dac(0x0128, 0x0332),
	dac(0x0128, 0x0330),
	dac(0x0228, 0x0332),
	dac(0x0228, 0x0330),
}

// BringUpSequence starts the PLLs, resets both chips and aligns them with
// SYSREF, in the order the EVM requires. It is replayed verbatim.
var BringUpSequence = concat(
	sysrefPulse,
	converterReset,
	converterSync,
	sysrefOutputsOn,
	ncoSync,
)

// SyncSequence repeats only the SYSREF pulse, realigning the phase
// reference of both channels.
var SyncSequence = concat(
	sysrefPulse,
	sysrefOutputsOn,
)
