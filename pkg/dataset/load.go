// Package dataset defines recommendation inputs.
// This file contains file ingestion for ratings and item vectors.
package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsupportedFormat is returned for file extensions the loaders do not
// recognize.
var ErrUnsupportedFormat = errors.New("dataset: unsupported file format")

// LoadResult contains statistics from a load operation. Malformed rows are
// skipped softly: counted, described in Errors, never fatal.
type LoadResult struct {
	RatingsLoaded int
	ItemsLoaded   int
	LinesSkipped  int
	Errors        []string
}

func (r *LoadResult) skip(format string, args ...any) {
	r.LinesSkipped++
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// LoadRatings loads ratings from path, dispatching on the file extension:
// .csv for CSV, .jsonl/.ndjson/.json for JSON Lines.
func (d *Dataset) LoadRatings(path string) (*LoadResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return d.LoadRatingsCSV(path)
	case ".jsonl", ".ndjson", ".json":
		return d.LoadRatingsJSONL(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadItems loads catalog vectors from path, dispatching on the file
// extension the same way as LoadRatings.
func (d *Dataset) LoadItems(path string) (*LoadResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return d.LoadItemsCSV(path)
	case ".jsonl", ".ndjson", ".json":
		return d.LoadItemsJSONL(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadRatingsCSV loads ratings from a CSV file with rows of the form
//
//	user,item,rating
//
// A header row is detected by an unparsable rating field and skipped.
func (d *Dataset) LoadRatingsCSV(path string) (*LoadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ratings CSV: %w", err)
	}
	defer file.Close()

	result := &LoadResult{}
	if err := d.readRatingsCSV(file, result); err != nil {
		return result, fmt.Errorf("reading ratings CSV: %w", err)
	}
	return result, nil
}

func (d *Dataset) readRatingsCSV(r io.Reader, result *LoadResult) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // validated per row below
	reader.TrimLeadingSpace = true

	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		row++

		if len(record) != 3 {
			result.skip("ratings row %d: want 3 fields, got %d", row, len(record))
			continue
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
		if err != nil {
			if row == 1 {
				continue // header
			}
			result.skip("ratings row %d: parsing value %q: %v", row, record[2], err)
			continue
		}

		d.Ratings = append(d.Ratings, Rating{
			User:  UserID(strings.TrimSpace(record[0])),
			Item:  ItemID(strings.TrimSpace(record[1])),
			Value: value,
		})
		result.RatingsLoaded++
	}
	return nil
}

// LoadRatingsJSONL loads ratings from a JSON Lines file, one object per
// line:
//
//	{"user": "u1", "item": "i9", "rating": 4.5}
func (d *Dataset) LoadRatingsJSONL(path string) (*LoadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ratings JSONL: %w", err)
	}
	defer file.Close()

	result := &LoadResult{}
	if err := d.readRatingsJSONL(file, result); err != nil {
		return result, fmt.Errorf("reading ratings JSONL: %w", err)
	}
	return result, nil
}

func (d *Dataset) readRatingsJSONL(r io.Reader, result *LoadResult) error {
	scanner := newLineScanner(r)
	row := 0
	for scanner.Scan() {
		row++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rating Rating
		if err := json.Unmarshal(line, &rating); err != nil {
			result.skip("ratings line %d: %v", row, err)
			continue
		}
		d.Ratings = append(d.Ratings, rating)
		result.RatingsLoaded++
	}
	return scanner.Err()
}

// LoadItemsCSV loads catalog vectors from a CSV file with rows of the form
//
//	item,f0,f1,...,fN
//
// A header row is detected by an unparsable first feature and skipped.
func (d *Dataset) LoadItemsCSV(path string) (*LoadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening items CSV: %w", err)
	}
	defer file.Close()

	result := &LoadResult{}
	if err := d.readItemsCSV(file, result); err != nil {
		return result, fmt.Errorf("reading items CSV: %w", err)
	}
	return result, nil
}

func (d *Dataset) readItemsCSV(r io.Reader, result *LoadResult) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // dimension agreement is Validate's job
	reader.TrimLeadingSpace = true

	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		row++

		if len(record) < 2 {
			result.skip("items row %d: want item and at least one feature, got %d fields", row, len(record))
			continue
		}

		vec := make([]float64, len(record)-1)
		parsed := true
		for i, field := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				if row == 1 {
					parsed = false
					break // header
				}
				result.skip("items row %d: parsing feature %d %q: %v", row, i, field, err)
				parsed = false
				break
			}
			vec[i] = v
		}
		if !parsed {
			continue
		}

		d.Items = append(d.Items, ItemVector{
			Item:   ItemID(strings.TrimSpace(record[0])),
			Vector: vec,
		})
		result.ItemsLoaded++
	}
	return nil
}

// LoadItemsJSONL loads catalog vectors from a JSON Lines file, one object
// per line:
//
//	{"item": "i9", "vector": [0.1, 0.0, 0.9]}
func (d *Dataset) LoadItemsJSONL(path string) (*LoadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening items JSONL: %w", err)
	}
	defer file.Close()

	result := &LoadResult{}
	if err := d.readItemsJSONL(file, result); err != nil {
		return result, fmt.Errorf("reading items JSONL: %w", err)
	}
	return result, nil
}

func (d *Dataset) readItemsJSONL(r io.Reader, result *LoadResult) error {
	scanner := newLineScanner(r)
	row := 0
	for scanner.Scan() {
		row++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var item ItemVector
		if err := json.Unmarshal(line, &item); err != nil {
			result.skip("items line %d: %v", row, err)
			continue
		}
		d.Items = append(d.Items, item)
		result.ItemsLoaded++
	}
	return scanner.Err()
}

// newLineScanner builds a scanner sized for long feature-vector lines.
func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	return scanner
}
