// Package sds011 implements the wire protocol of the Nova Fitness SDS011
// particulate matter sensor: the 10-byte data frame it streams in continuous
// mode, the command frames used to wake it, and a resynchronising decoder that
// turns an unreliable byte stream into measurements.
package sds011

import (
	"fmt"
	"time"
)

const (
	// FrameLen is the length in bytes of every frame on the wire.
	FrameLen = 10
	// BodyLen is the number of bytes following the start and type markers.
	BodyLen = FrameLen - 2

	StartMarker byte = 0xAA
	DataType    byte = 0xC0
	CommandType byte = 0xB4
	TailMarker  byte = 0xAB

	// BaudRate is the fixed line speed of the sensor (9600 8N1).
	BaudRate = 9600
)

// Command identifiers used in command frames.
const (
	CmdReportMode byte = 0x02
	CmdSleepWork  byte = 0x06

	// ModeSet selects the "set" variant of a command (as opposed to query).
	ModeSet byte = 0x01
)

// Measurement is one decoded reading in µg/m³.
type Measurement struct {
	PM25       float64   `json:"pm25"`
	PM10       float64   `json:"pm10"`
	ObservedAt time.Time `json:"observed_at"`
}

func (m Measurement) String() string {
	return fmt.Sprintf("pm2.5=%.1f pm10=%.1f at %s", m.PM25, m.PM10, m.ObservedAt.Format(time.RFC3339))
}

// CommandFrame builds a 10-byte command frame AA B4 <cmd> <mode> 00 00 00 00 FF FF.
// The device tolerates the missing checksum so none is appended.
func CommandFrame(cmd, mode byte) []byte {
	return []byte{StartMarker, CommandType, cmd, mode, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF}
}

// WakeCommand returns the frame that wakes the sensor from sleep.
func WakeCommand() []byte {
	return CommandFrame(CmdSleepWork, ModeSet)
}

// ContinuousModeCommand returns the frame that switches the sensor to
// streaming unsolicited data frames.
func ContinuousModeCommand() []byte {
	return CommandFrame(CmdReportMode, ModeSet)
}

// Checksum returns the low byte of the sum of the six data bytes of a frame
// body (pm25 lo/hi, pm10 lo/hi, id lo/hi).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// EncodeDataFrame builds a well-formed data frame carrying the given values.
// Values are rounded to the 0.1 µg/m³ resolution of the wire format.
func EncodeDataFrame(pm25, pm10 float64, deviceID uint16) []byte {
	p25 := uint16(pm25*10 + 0.5)
	p10 := uint16(pm10*10 + 0.5)
	frame := []byte{
		StartMarker, DataType,
		byte(p25), byte(p25 >> 8),
		byte(p10), byte(p10 >> 8),
		byte(deviceID), byte(deviceID >> 8),
		0x00, TailMarker,
	}
	frame[8] = Checksum(frame[2:8])
	return frame
}
