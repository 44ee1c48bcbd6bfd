package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCBOR  Format = "cbor"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return FormatJSONL, nil
	case FormatJSONL, FormatCBOR:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}

	return em
}()

type encodeFunc func(Record) ([]byte, error)

func encodeJSON(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}

func encoder(f Format) (encodeFunc, error) {
	switch f {
	case FormatJSONL:
		return encodeJSON, nil
	case FormatCBOR:
		return func(rec Record) ([]byte, error) { return encMode.Marshal(rec) }, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// Writer appends encoded records to w. Each record is encoded in full and
// written with a single Write call.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	encode encodeFunc
	closed bool
}

func NewWriter(w io.Writer, f Format) (*Writer, error) {
	encode, err := encoder(f)
	if err != nil {
		return nil, err
	}
	wr := &Writer{w: w, encode: encode}
	if c, ok := w.(io.Closer); ok {
		wr.closer = c
	}

	return wr, nil
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string, f Format) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	w, err := NewWriter(file, f)
	if err != nil {
		return nil, errors.Join(err, file.Close())
	}

	return w, nil
}

func (w *Writer) Append(_ context.Context, rec Record) error {
	data, err := w.encode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %d: %w", rec.Round, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrSinkClosed
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("failed to write record %d: %w", rec.Round, err)
	}

	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.closer != nil {
		return w.closer.Close()
	}

	return nil
}

// Read decodes every record in r.
func Read(r io.Reader, f Format) ([]Record, error) {
	switch f {
	case FormatJSONL:
		return readJSONL(r)
	case FormatCBOR:
		return readCBOR(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

func ReadFile(path string, f Format) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	defer file.Close()

	return Read(file, f)
}

func readJSONL(r io.Reader) ([]Record, error) {
	var records []Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}

	return records, scanner.Err()
}

func readCBOR(r io.Reader) ([]Record, error) {
	var records []Record

	dec := cbor.NewDecoder(r)
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
