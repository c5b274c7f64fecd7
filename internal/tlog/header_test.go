package tlog

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeHeaderLayout(t *testing.T) {
	buf := EncodeHeader(Header{Version: V1, Year: 2024, Month: 3, Day: 15, NumSamples: 1440})
	want := []byte{'T', 'L', 'O', 'G', 0x01, 0xE8, 0x07, 0x03, 0x0F, 0xA0, 0x05, 0x00}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("encoded % X, want % X", buf, want)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	tests := []Header{
		{Version: V1, Year: 2024, Month: 3, Day: 15, NumSamples: 1440},
		{Version: V2, Year: 2025, Month: 12, Day: 31, NumSamples: 1440},
		{Version: V2, Year: 0, Month: 0, Day: 0, NumSamples: 0},
		{Version: V1, Year: 65535, Month: 255, Day: 255, NumSamples: 65535},
	}
	for _, h := range tests {
		buf := EncodeHeader(h)
		got, err := DecodeHeader(buf[:])
		if err != nil {
			t.Fatalf("decode %+v: %v", h, err)
		}
		if got != h {
			t.Errorf("round trip = %+v, want %+v", got, h)
		}
	}
}

func TestDecodeHeaderErrors(t *testing.T) {
	valid := EncodeHeader(Header{Version: V1, Year: 2024, Month: 3, Day: 15, NumSamples: 1440})

	badMagic := valid
	copy(badMagic[:4], "XLOG")

	badVersion := valid
	badVersion[4] = 3

	zeroVersion := valid
	zeroVersion[4] = 0

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"five bytes", valid[:5], ErrTruncated},
		{"empty", nil, ErrTruncated},
		{"eleven bytes", valid[:11], ErrTruncated},
		{"XLOG", badMagic[:], ErrInvalidMagic},
		{"version 3", badVersion[:], ErrUnsupportedVersion},
		{"version 0", zeroVersion[:], ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHeader(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeHeaderIgnoresReserved(t *testing.T) {
	buf := EncodeHeader(Header{Version: V2, Year: 2024, Month: 1, Day: 2, NumSamples: 1440})
	buf[11] = 0xAA
	h, err := DecodeHeader(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if h.Version != V2 || h.Day != 2 {
		t.Errorf("got %+v", h)
	}
}

func TestHeaderDateString(t *testing.T) {
	h := Header{Year: 2024, Month: 3, Day: 5}
	if got := h.DateString(); got != "20240305" {
		t.Errorf("DateString() = %q, want %q", got, "20240305")
	}
}
