package coo

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadTXT parses the whitespace-delimited triplet format
//
//	<cell> <gene> <count>
//
// one nonzero per line, zero-based indices. Blank lines and lines starting
// with '#' or '%' are skipped. Dimensions are inferred as max index + 1.
func ReadTXT(r io.Reader) (*Matrix, error) {
	var (
		rows, cols []int
		vals       []float64
		nrows      int
		ncols      int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' || text[0] == '%' {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: line %d: want 3 fields, got %d",
				ErrBadFormat, line, len(fields))
		}
		i, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: cell index %q", ErrBadFormat, line, fields[0])
		}
		j, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: gene index %q", ErrBadFormat, line, fields[1])
		}
		y, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: count %q", ErrBadFormat, line, fields[2])
		}
		rows = append(rows, i)
		cols = append(cols, j)
		vals = append(vals, y)
		if i >= nrows {
			nrows = i + 1
		}
		if j >= ncols {
			ncols = j + 1
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("coo: read: %w", err)
	}
	if nrows == 0 || ncols == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrBadShape)
	}
	return New(nrows, ncols, rows, cols, vals)
}
