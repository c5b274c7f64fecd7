// Package tlog implements the TLOG binary day-log format written by the
// chronothermostat: a 12-byte header followed by one fixed-width record per
// minute of the day.
package tlog

import (
	"encoding/binary"
	"fmt"
)

// Magic is the 4-byte literal that opens every log file.
const Magic = "TLOG"

// HeaderSize is the encoded size of a Header in bytes.
const HeaderSize = 12

// SamplesPerDay is the number of one-minute samples in a full day.
const SamplesPerDay = 1440

// Header is the fixed file header. Date fields are not range-checked.
type Header struct {
	Version    Version
	Year       uint16
	Month      uint8
	Day        uint8
	NumSamples uint16
}

// EncodeHeader serializes h. Magic and the reserved byte are always written.
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:4], Magic)
	buf[4] = uint8(h.Version)
	binary.LittleEndian.PutUint16(buf[5:7], h.Year)
	buf[7] = h.Month
	buf[8] = h.Day
	binary.LittleEndian.PutUint16(buf[9:11], h.NumSamples)
	buf[11] = 0
	return buf
}

// DecodeHeader parses the first HeaderSize bytes of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header: need %d bytes, have %d: %w", HeaderSize, len(data), ErrTruncated)
	}
	if string(data[0:4]) != Magic {
		return Header{}, fmt.Errorf("header: magic %q: %w", data[0:4], ErrInvalidMagic)
	}
	v := Version(data[4])
	if !v.Valid() {
		return Header{}, fmt.Errorf("header: version %d: %w", data[4], ErrUnsupportedVersion)
	}
	return Header{
		Version:    v,
		Year:       binary.LittleEndian.Uint16(data[5:7]),
		Month:      data[7],
		Day:        data[8],
		NumSamples: binary.LittleEndian.Uint16(data[9:11]),
	}, nil
}

// DateString formats the header date as YYYYMMDD.
func (h Header) DateString() string {
	return fmt.Sprintf("%04d%02d%02d", h.Year, h.Month, h.Day)
}
