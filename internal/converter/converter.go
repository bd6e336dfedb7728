package converter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"powerlog/internal/anchor"
	"powerlog/internal/models"
	"powerlog/internal/record"
	"powerlog/internal/timestamp"
	"powerlog/internal/units"
)

const (
	header = `"timestamp","voltage","current"` + "\n"

	voltageDecimals = 5
	currentDecimals = 1
)

// bom makes spreadsheet software detect the output as UTF-8.
var bom = []byte{0xEF, 0xBB, 0xBF}

// ErrSinkFailure marks a failure to write converted output.
var ErrSinkFailure = errors.New("converter: sink failure")

// SampleSink receives every converted sample in addition to the CSV output.
type SampleSink interface {
	WriteSample(ctx context.Context, sample models.Sample) error
}

type state int

const (
	stateStart state = iota
	stateStreaming
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateStreaming:
		return "streaming"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Converter turns a binary power log into CSV.
type Converter struct {
	sinks  []SampleSink
	logger *zap.Logger
}

// New returns a converter forwarding samples to the given sinks.
func New(logger *zap.Logger, sinks ...SampleSink) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{
		sinks:  sinks,
		logger: logger,
	}
}

// Convert reads records from in until the end of the stream and writes one CSV row per
// record to out. Output is flushed on every return path. The returned summary covers the
// rows written, also when an error is returned.
func (c *Converter) Convert(ctx context.Context, in io.Reader, out io.Writer, a anchor.Anchor) (models.RunSummary, error) {
	run := &conversion{
		dec:        record.NewDecoder(in),
		out:        bufio.NewWriter(out),
		reconciler: timestamp.NewReconciler(a.OffsetMillis()),
		summary:    models.RunSummary{Anchored: a.Valid},
		line:       make([]byte, 0, 64),
	}

	err := c.run(ctx, run)
	if flushErr := run.out.Flush(); flushErr != nil && err == nil {
		err = fmt.Errorf("%w: flush: %w", ErrSinkFailure, flushErr)
		run.state = stateFailed
	}
	run.summary.Failed = err != nil

	c.logger.Debug("conversion finished",
		zap.Stringer("state", run.state),
		zap.Int64("rows", run.summary.Rows),
		zap.Stringer("anchor", a),
	)
	return run.summary, err
}

type conversion struct {
	state      state
	dec        *record.Decoder
	out        *bufio.Writer
	reconciler *timestamp.Reconciler
	summary    models.RunSummary
	line       []byte
}

func (c *Converter) run(ctx context.Context, run *conversion) error {
	if err := writeHeader(run.out); err != nil {
		run.state = stateFailed
		return fmt.Errorf("%w: header: %w", ErrSinkFailure, err)
	}
	run.state = stateStreaming

	for {
		rec, err := run.dec.Next()
		if errors.Is(err, io.EOF) {
			run.state = stateDone
			return nil
		}
		if err != nil {
			run.state = stateFailed
			return err
		}

		if err := c.emit(ctx, run, rec); err != nil {
			run.state = stateFailed
			return err
		}
	}
}

func (c *Converter) emit(ctx context.Context, run *conversion, rec record.Record) error {
	voltage, current := units.ToPhysical(rec.Voltage, rec.Current)
	sample := models.Sample{
		Seq:       run.summary.Rows,
		Timestamp: run.reconciler.Reconcile(rec.Timestamp),
		Voltage:   voltage,
		Current:   current,
	}

	run.line = appendRow(run.line[:0], sample)
	if _, err := run.out.Write(run.line); err != nil {
		return fmt.Errorf("%w: row %d: %w", ErrSinkFailure, sample.Seq, err)
	}
	run.summary.Observe(sample)

	for _, sink := range c.sinks {
		if err := sink.WriteSample(ctx, sample); err != nil {
			return fmt.Errorf("%w: export row %d: %w", ErrSinkFailure, sample.Seq, err)
		}
	}
	return nil
}

func writeHeader(w io.Writer) error {
	if _, err := w.Write(bom); err != nil {
		return err
	}
	_, err := io.WriteString(w, header)
	return err
}

func appendRow(dst []byte, s models.Sample) []byte {
	dst = strconv.AppendInt(dst, s.Timestamp, 10)
	dst = append(dst, ',')
	dst = strconv.AppendFloat(dst, float64(s.Voltage), 'f', voltageDecimals, 32)
	dst = append(dst, ',')
	dst = strconv.AppendFloat(dst, float64(s.Current), 'f', currentDecimals, 32)
	return append(dst, '\n')
}
