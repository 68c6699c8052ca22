package core

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
)

// Row counting defaults.
const (
	DefaultExactCountThreshold = 1 << 20 // 1 MiB
	DefaultEstimateSampleRows  = 100
	DefaultEstimateSampleBytes = 64 << 10
)

// RowCount is the number of data rows after the header.
type RowCount struct {
	Rows  int  `json:"rows"`
	Exact bool `json:"exact"`
}

// RowCounter counts data rows exactly for small files and estimates them
// for large ones. ExactThreshold is the single knob trading accuracy for latency.
type RowCounter struct {
	ExactThreshold int64 // Files below this size are counted exactly
	SampleRows     int   // Max lines read for an estimate
	SampleBytes    int   // Max bytes read for an estimate
	HeaderOffset   int   // Lines before the header row
}

// NewRowCounter returns a counter with default settings.
func NewRowCounter() RowCounter {
	return RowCounter{
		ExactThreshold: DefaultExactCountThreshold,
		SampleRows:     DefaultEstimateSampleRows,
		SampleBytes:    DefaultEstimateSampleBytes,
	}
}

// Count returns the row count for the file at path.
func (c RowCounter) Count(path string) (RowCount, error) {
	info, err := os.Stat(path)
	if err != nil {
		return RowCount{}, fmt.Errorf("stat csv: %w", err)
	}

	if info.Size() < c.exactThreshold() {
		n, err := c.countExact(path)
		if err != nil {
			return RowCount{}, err
		}
		return RowCount{Rows: n, Exact: true}, nil
	}
	return c.estimate(path, info.Size())
}

func (c RowCounter) exactThreshold() int64 {
	if c.ExactThreshold <= 0 {
		return DefaultExactCountThreshold
	}
	return c.ExactThreshold
}

// countExact iterates every record; blank rows are not counted.
func (c RowCounter) countExact(path string) (int, error) {
	f, err := OpenCSV(path, c.HeaderOffset)
	if err != nil {
		if err == ErrEmptyFile {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	n := 0
	for {
		_, _, err := f.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		n++
	}
}

// estimate reads a bounded sample after the header and extrapolates:
// estimatedRows = ceil((fileSize - headerBytes) / avgRowSize).
func (c RowCounter) estimate(path string, size int64) (RowCount, error) {
	f, err := os.Open(path)
	if err != nil {
		return RowCount{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	var headerBytes int64
	for i := 0; i <= c.HeaderOffset; i++ {
		line, err := br.ReadBytes('\n')
		headerBytes += int64(len(line))
		if err == io.EOF {
			return RowCount{Rows: 0, Exact: true}, nil
		}
		if err != nil {
			return RowCount{}, fmt.Errorf("read csv header: %w", err)
		}
	}

	maxRows := c.SampleRows
	if maxRows <= 0 {
		maxRows = DefaultEstimateSampleRows
	}
	maxBytes := c.SampleBytes
	if maxBytes <= 0 {
		maxBytes = DefaultEstimateSampleBytes
	}

	var sampleBytes, sampleLines int
	for sampleLines < maxRows && sampleBytes < maxBytes {
		line, err := br.ReadBytes('\n')
		sampleBytes += len(line)
		if !blankLine(line) {
			sampleLines++
		}
		if err == io.EOF {
			// The sample covered the whole remainder, so a full parse is
			// cheap and agrees with countExact on blank and multi-line rows
			n, err := c.countExact(path)
			if err != nil {
				return RowCount{}, err
			}
			return RowCount{Rows: n, Exact: true}, nil
		}
		if err != nil {
			return RowCount{}, fmt.Errorf("read csv sample: %w", err)
		}
	}

	if sampleLines == 0 {
		return RowCount{Rows: 0, Exact: true}, nil
	}

	avgRowSize := float64(sampleBytes) / float64(sampleLines)
	estimated := int(math.Ceil(float64(size-headerBytes) / avgRowSize))
	return RowCount{Rows: estimated, Exact: false}, nil
}

// blankLine reports whether a raw line holds no cell content.
func blankLine(line []byte) bool {
	return len(bytes.Trim(line, " \t\r\n,;|")) == 0
}
