package tlog

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Version selects the record layout.
type Version uint8

const (
	V1 Version = 1 // 10-byte records
	V2 Version = 2 // 12-byte records with pressure
)

// Valid reports whether v is a known layout.
func (v Version) Valid() bool {
	return v == V1 || v == V2
}

// RecordSize returns the encoded record width for v, or 0 for unknown versions.
func (v Version) RecordSize() int {
	switch v {
	case V1:
		return 10
	case V2:
		return 12
	default:
		return 0
	}
}

// FileSize returns the byte length of a file holding n records.
func (v Version) FileSize(n int) int {
	return HeaderSize + n*v.RecordSize()
}

// Sentinel values meaning "no data recorded".
const (
	NoTemperature int16 = math.MinInt16
	NoHumidity    uint8 = 255
)

// Flag bits.
const (
	FlagRelayOn    uint8 = 0x01
	FlagManualMode uint8 = 0x02
	FlagException  uint8 = 0x04
)

// Record is one minute of the day.
type Record struct {
	MinuteOfDay   uint16
	TempCenti     int16 // °C × 100, NoTemperature when absent
	Humidity      uint8 // %RH, NoHumidity when absent
	Flags         uint8
	SetpointCenti int16 // °C × 100, NoTemperature when absent
	ActiveBank    uint8
	Pressure      uint16 // hPa, V2 only
}

// SentinelRecord returns a record with every sentinel field set.
func SentinelRecord(minute uint16) Record {
	return Record{
		MinuteOfDay:   minute,
		TempCenti:     NoTemperature,
		Humidity:      NoHumidity,
		SetpointCenti: NoTemperature,
	}
}

func (r Record) HasTemperature() bool { return r.TempCenti != NoTemperature }
func (r Record) HasSetpoint() bool    { return r.SetpointCenti != NoTemperature }
func (r Record) HasHumidity() bool    { return r.Humidity != NoHumidity }

// RelayOn reports bit 0 of Flags.
func (r Record) RelayOn() bool { return r.Flags&FlagRelayOn != 0 }

// Temperature returns the temperature in °C and whether it is present.
func (r Record) Temperature() (float64, bool) {
	if !r.HasTemperature() {
		return 0, false
	}
	return float64(r.TempCenti) / 100, true
}

// Setpoint returns the setpoint in °C and whether it is present.
func (r Record) Setpoint() (float64, bool) {
	if !r.HasSetpoint() {
		return 0, false
	}
	return float64(r.SetpointCenti) / 100, true
}

// AppendRecord appends the encoding of r for version v to dst.
func AppendRecord(dst []byte, r Record, v Version) ([]byte, error) {
	switch v {
	case V1:
		dst = appendCommon(dst, r)
	case V2:
		dst = appendCommon(dst, r)
		dst = binary.LittleEndian.AppendUint16(dst, r.Pressure)
	default:
		return dst, fmt.Errorf("record: version %d: %w", v, ErrUnsupportedVersion)
	}
	return dst, nil
}

func appendCommon(dst []byte, r Record) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, r.MinuteOfDay)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(r.TempCenti))
	dst = append(dst, r.Humidity, r.Flags)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(r.SetpointCenti))
	return append(dst, r.ActiveBank, 0)
}

// EncodeRecord returns the 10- or 12-byte encoding of r.
func EncodeRecord(r Record, v Version) ([]byte, error) {
	return AppendRecord(make([]byte, 0, v.RecordSize()), r, v)
}

// DecodeRecord parses one record of version v from the start of data.
func DecodeRecord(data []byte, v Version) (Record, error) {
	size := v.RecordSize()
	if size == 0 {
		return Record{}, fmt.Errorf("record: version %d: %w", v, ErrUnsupportedVersion)
	}
	if len(data) < size {
		return Record{}, fmt.Errorf("record: need %d bytes, have %d: %w", size, len(data), ErrTruncated)
	}
	r := Record{
		MinuteOfDay:   binary.LittleEndian.Uint16(data[0:2]),
		TempCenti:     int16(binary.LittleEndian.Uint16(data[2:4])),
		Humidity:      data[4],
		Flags:         data[5],
		SetpointCenti: int16(binary.LittleEndian.Uint16(data[6:8])),
		ActiveBank:    data[8],
	}
	if v == V2 {
		r.Pressure = binary.LittleEndian.Uint16(data[10:12])
	}
	return r, nil
}
