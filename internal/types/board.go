package types

// BoardProfile describes how a DDS board is wired to its GPIO adapter.
type BoardProfile struct {
	ID            string        `json:"id" yaml:"id"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	SampleRateMHz float64       `json:"sample_rate_mhz" yaml:"sample_rate_mhz"`
	ClockPins     PinAssignment `json:"clock_pins" yaml:"clock_pins"`
	ConverterPins PinAssignment `json:"converter_pins" yaml:"converter_pins"`
	ResetMask     uint8         `json:"reset_mask" yaml:"reset_mask"`
	PageRegister  uint32        `json:"page_register" yaml:"page_register"`
}

type PinAssignment struct {
	Clock   uint8 `json:"clock" yaml:"clock"`
	DataIn  uint8 `json:"data_in" yaml:"data_in"`
	DataOut uint8 `json:"data_out" yaml:"data_out"`
	Select  uint8 `json:"select" yaml:"select"`
	Sample  uint8 `json:"sample" yaml:"sample"`
}
