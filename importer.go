package libcluster

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// CsvImporter loads observation matrices from CSV files, one file per
// group. It lives outside the fitting core: the engine itself never
// touches the filesystem.
type CsvImporter struct {
}

func NewCsvImporter() *CsvImporter {
	return &CsvImporter{}
}

// Import reads columns start..end (inclusive) of one CSV file into an
// observation matrix. Records that are too short or fail to parse as
// numbers are skipped.
func (i *CsvImporter) Import(file string, start, end int) (*mat.Dense, error) {
	if start < 0 || end < 0 || start > end {
		return nil, ErrInvalidRange
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	var (
		r = csv.NewReader(bufio.NewReader(f))
		s = end - start + 1
		d [][]float64
		g []float64
	)

	// short or ragged records are skipped, not fatal
	r.FieldsPerRecord = -1

Main:
	for {
		record, err := r.Read()

		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		if len(record) <= end {
			continue
		}

		g = make([]float64, 0, s)

		for j := start; j <= end; j++ {
			f, err := strconv.ParseFloat(record[j], 64)
			if err == nil {
				g = append(g, f)
			} else {
				continue Main
			}
		}

		d = append(d, g)
	}

	if len(d) == 0 {
		return nil, ErrEmptySet
	}

	out := mat.NewDense(len(d), s, nil)
	for i, row := range d {
		out.SetRow(i, row)
	}

	return out, nil
}

// ImportGroups reads one file per group with a common column range, so
// the resulting matrices are guaranteed dimensionally consistent.
func (i *CsvImporter) ImportGroups(files []string, start, end int) ([]*mat.Dense, error) {
	if len(files) == 0 {
		return nil, ErrEmptySet
	}

	groups := make([]*mat.Dense, len(files))

	for j, file := range files {
		x, err := i.Import(file, start, end)
		if err != nil {
			return nil, fmt.Errorf("group %d (%s): %w", j, file, err)
		}
		groups[j] = x
	}

	return groups, nil
}
