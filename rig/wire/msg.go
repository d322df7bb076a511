package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	CommandSize       = 4 // float32 desired pressure
	SensorsPerChannel = 4
)

// errors
var (
	ErrShortFrame    = errors.New("frame shorter than the configured frame size")
	ErrShortCommand  = errors.New("command shorter than 4 bytes")
	ErrUnknownFormat = errors.New("unknown frame format")
)

// Reading is the calibrated output of the onboard pressure sensors for one channel, in PSI.
type Reading [SensorsPerChannel]float64

// Calibration converts a raw ADC count into PSI using the sensor's affine transfer function:
//
//	volt = raw * VoltsPerCount
//	psi  = FullScalePSI * (volt - ZeroVolts) / SpanVolts
type Calibration struct {
	VoltsPerCount float64
	ZeroVolts     float64
	SpanVolts     float64
	FullScalePSI  float64
	Decimals      int
}

func (c Calibration) PSI(raw int16) float64 {
	volt := float64(raw) * c.VoltsPerCount
	return round(c.FullScalePSI*(volt-c.ZeroVolts)/c.SpanVolts, c.Decimals)
}

// Raw is the inverse of PSI, used by simulated actuators to build response frames.
func (c Calibration) Raw(psi float64) int16 {
	volt := psi*c.SpanVolts/c.FullScalePSI + c.ZeroVolts
	raw := math.Round(volt / c.VoltsPerCount)
	if raw > math.MaxInt16 {
		return math.MaxInt16
	}
	if raw < math.MinInt16 {
		return math.MinInt16
	}
	return int16(raw)
}

// Format describes one generation of the actuator response frame: Values big endian int16 words
// followed by nothing else. Only the first SensorsPerChannel words make it into a Reading.
type Format struct {
	Name        string
	Values      int
	Calibration Calibration
}

var (
	// 8 byte frame: four 16 bit ADC channels, 12.288V full scale, 30 PSI sensors.
	FormatInt16x4 = Format{
		Name:   "int16x4",
		Values: 4,
		Calibration: Calibration{
			VoltsPerCount: 12.288 / 65536.0,
			ZeroVolts:     0.1 * 5.0,
			SpanVolts:     0.8 * 5.0,
			FullScalePSI:  30.0,
			Decimals:      4,
		},
	}

	// legacy 12 byte frame: six 10 bit analog reads, 5V reference, 60 PSI sensors.
	FormatInt16x6 = Format{
		Name:   "int16x6",
		Values: 6,
		Calibration: Calibration{
			VoltsPerCount: 5.0 / 1023.0,
			ZeroVolts:     0.1 * 5.0,
			SpanVolts:     0.8 * 5.0,
			FullScalePSI:  60.0,
			Decimals:      2,
		},
	}
)

func LookupFormat(name string) (f Format, err error) {
	switch name {
	case "", FormatInt16x4.Name:
		return FormatInt16x4, nil
	case FormatInt16x6.Name:
		return FormatInt16x6, nil
	default:
		return f, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Size is the number of bytes the actuator sends back per command.
func (f Format) Size() int {
	return f.Values * 2
}

// Decode converts a raw response frame into calibrated sensor values.
func (f Format) Decode(frame []byte) (r Reading, err error) {
	if len(frame) < f.Size() {
		return r, ErrShortFrame
	}

	for i := 0; i < SensorsPerChannel && i < f.Values; i++ {
		raw := int16(binary.BigEndian.Uint16(frame[i*2:]))
		r[i] = f.Calibration.PSI(raw)
	}
	return r, nil
}

// Encode builds the response frame an actuator would send for the given readings.
// Words past SensorsPerChannel are left zero.
func (f Format) Encode(r Reading) []byte {
	frame := make([]byte, f.Size())
	for i := 0; i < SensorsPerChannel && i < f.Values; i++ {
		binary.BigEndian.PutUint16(frame[i*2:], uint16(f.Calibration.Raw(r[i])))
	}
	return frame
}

// EncodeCommand packs a desired pressure as a little endian float32, which is the native
// layout of the AVR/ARM boards on the other end.
func EncodeCommand(psi float64) []byte {
	buf := make([]byte, CommandSize)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(psi)))
	return buf
}

func DecodeCommand(buf []byte) (psi float64, err error) {
	if len(buf) < CommandSize {
		return 0, ErrShortCommand
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
