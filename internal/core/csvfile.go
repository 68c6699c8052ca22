package core

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrEmptyFile is returned when a file has no header row.
	ErrEmptyFile = errors.New("empty file")
	// ErrHeaderNotFound is returned when the header offset is past the end of the file.
	ErrHeaderNotFound = errors.New("header not found")
)

// CSVFile is an open delimited file positioned after its header row.
type CSVFile struct {
	Path      string
	Delimiter rune
	Header    []string
	Size      int64

	file    *os.File
	counter *StreamingCountingReader
	reader  *csv.Reader
	row     int // data rows consumed so far
}

// OpenCSV opens path, detects its delimiter from the first kilobyte, skips
// headerOffset leading lines and reads the header row.
func OpenCSV(path string, headerOffset int) (*CSVFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv: %w", err)
	}

	sample := make([]byte, DelimiterSampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("read csv sample: %w", err)
	}
	delim, _ := DetectDelimiter(sample[:n])

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind csv: %w", err)
	}

	stream, counter := WrapForStreaming(f, info.Size())
	br := bufio.NewReader(stream)
	if err := skipLines(br, headerOffset); err != nil {
		f.Close()
		return nil, err
	}

	reader := newCSVReader(br, delim)
	header, err := reader.Read()
	if err == io.EOF {
		f.Close()
		if headerOffset > 0 {
			return nil, fmt.Errorf("%w at line %d", ErrHeaderNotFound, headerOffset+1)
		}
		return nil, ErrEmptyFile
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}

	return &CSVFile{
		Path:      path,
		Delimiter: delim,
		Header:    normalizeHeader(header),
		Size:      info.Size(),
		file:      f,
		counter:   counter,
		reader:    reader,
	}, nil
}

// Next returns the next data row keyed by header name, with its 1-based
// data row number. Rows with only blank cells are skipped. Returns io.EOF
// at the end of the file.
func (c *CSVFile) Next() (int, map[string]string, error) {
	for {
		record, err := c.reader.Read()
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		c.row++
		if err != nil {
			return c.row, nil, fmt.Errorf("invalid csv at row %d: %w", c.row, err)
		}
		if isEmptyRow(record) {
			continue
		}
		return c.row, c.toMap(record), nil
	}
}

// Skip advances past n data rows without materializing them.
func (c *CSVFile) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, _, err := c.Next(); err != nil {
			return err
		}
	}
	return nil
}

// BytesRead reports how many bytes of the file have been consumed.
func (c *CSVFile) BytesRead() int64 {
	return c.counter.BytesRead
}

// Close closes the underlying file.
func (c *CSVFile) Close() error {
	return c.file.Close()
}

func (c *CSVFile) toMap(record []string) map[string]string {
	values := make(map[string]string, len(c.Header))
	for i, name := range c.Header {
		if i < len(record) {
			values[name] = strings.TrimSpace(record[i])
		} else {
			values[name] = ""
		}
	}
	return values
}

func newCSVReader(r io.Reader, delim rune) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// skipLines discards n physical lines before the header.
func skipLines(br *bufio.Reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := br.ReadBytes('\n'); err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w at line %d", ErrHeaderNotFound, n+1)
			}
			return fmt.Errorf("skip header offset: %w", err)
		}
	}
	return nil
}

// normalizeHeader trims header cells, names blank ones and disambiguates
// repeated names so every column has a unique key.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := CleanCell(h)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		seen[name]++
		if seen[name] > 1 {
			name = name + "_" + strconv.Itoa(seen[name])
		}
		out[i] = name
	}
	return out
}

// isEmptyRow returns true if every cell is blank.
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// CleanCell removes common CSV artifacts from a cell value:
// surrounding whitespace, the Excel formula prefix (="...") and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
