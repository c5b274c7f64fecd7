package tlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// LogFile is a decoded day log.
type LogFile struct {
	Header  Header
	Records []Record
}

// Size returns the encoded length of f.
func (f *LogFile) Size() int {
	return f.Header.Version.FileSize(len(f.Records))
}

// MarshalBinary encodes the header followed by every record. NumSamples is
// taken from len(Records).
func (f *LogFile) MarshalBinary() ([]byte, error) {
	h := f.Header
	h.NumSamples = uint16(len(f.Records))
	hdr := EncodeHeader(h)
	buf := make([]byte, 0, f.Size())
	buf = append(buf, hdr[:]...)
	for _, r := range f.Records {
		var err error
		if buf, err = AppendRecord(buf, r, h.Version); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteTo implements io.WriterTo.
func (f *LogFile) WriteTo(w io.Writer) (int64, error) {
	data, err := f.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// Decode parses a complete log file. It fails if fewer than NumSamples
// records are present; trailing bytes are ignored.
func Decode(data []byte) (*LogFile, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	size := h.Version.RecordSize()
	body := data[HeaderSize:]
	if need := int(h.NumSamples) * size; len(body) < need {
		return nil, fmt.Errorf("log %s: %d records need %d bytes, have %d: %w",
			h.DateString(), h.NumSamples, need, len(body), ErrTruncated)
	}

	f := &LogFile{Header: h, Records: make([]Record, h.NumSamples)}
	for i := range f.Records {
		r, err := DecodeRecord(body[i*size:], h.Version)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		f.Records[i] = r
	}
	return f, nil
}

// ReadFrom decodes a log file from r.
func ReadFrom(r io.Reader) (*LogFile, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return Decode(data)
}

// ReadFile opens and decodes the log file at path.
func ReadFile(path string) (*LogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return Decode(data)
}
