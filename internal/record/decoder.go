package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Size is the length of one record on the wire.
const Size = 8

// ErrMalformedStream marks input that ended mid-record or failed while being read.
var ErrMalformedStream = errors.New("record: malformed stream")

// Record is one raw sample as written by the logger.
//
//	offset 0: uint32 timestamp (device ticks, ms)
//	offset 4: int16  voltage ADC code
//	offset 6: int16  current ADC code
type Record struct {
	Timestamp uint32
	Voltage   int16
	Current   int16
}

// Decoder reads fixed-size little-endian records from a stream.
type Decoder struct {
	r     io.Reader
	buf   [Size]byte
	count int64
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next record. It returns io.EOF when the stream ends exactly on a
// record boundary; any other failure wraps ErrMalformedStream.
func (d *Decoder) Next() (Record, error) {
	n, err := io.ReadFull(d.r, d.buf[:])
	switch {
	case err == nil:
	case errors.Is(err, io.EOF) && n == 0:
		return Record{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Record{}, fmt.Errorf("%w: record %d at offset %d truncated after %d of %d bytes",
			ErrMalformedStream, d.count, d.count*Size, n, Size)
	default:
		return Record{}, fmt.Errorf("%w: record %d at offset %d: %w",
			ErrMalformedStream, d.count, d.count*Size, err)
	}

	d.count++
	return Record{
		Timestamp: binary.LittleEndian.Uint32(d.buf[0:4]),
		Voltage:   int16(binary.LittleEndian.Uint16(d.buf[4:6])),
		Current:   int16(binary.LittleEndian.Uint16(d.buf[6:8])),
	}, nil
}

// Count returns the number of records decoded so far.
func (d *Decoder) Count() int64 {
	return d.count
}

// Encode writes rec in wire format into dst, which must hold at least Size bytes.
func Encode(dst []byte, rec Record) {
	binary.LittleEndian.PutUint32(dst[0:4], rec.Timestamp)
	binary.LittleEndian.PutUint16(dst[4:6], uint16(rec.Voltage))
	binary.LittleEndian.PutUint16(dst[6:8], uint16(rec.Current))
}
