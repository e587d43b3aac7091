package importer

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// LoadFile reads records from a .json, .csv, .xlsx or .shp file. JSON files
// hold an array of objects; CSV and XLSX files carry a header row naming the
// fields.
func LoadFile(path string) ([]Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadJSON(f)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "importer: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f)
	case ".xlsx":
		return ReadXLSX(path)
	case ".shp":
		return ReadShapefile(path)
	default:
		return nil, eris.Errorf("importer: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadJSON decodes an array of objects. Whole numbers decode as int64 and
// other numbers as float64.
func ReadJSON(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "importer: decode json records")
	}
	out := make([]Record, len(raw))
	for i, m := range raw {
		for k, v := range m {
			if n, ok := v.(json.Number); ok {
				m[k] = number(n)
			}
		}
		out[i] = Record(m)
	}
	return out, nil
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// ReadCSV reads a header row and one record per following row. Short rows
// leave the trailing fields unset.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "importer: read csv header")
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "importer: read csv line %d", line)
		}
		out = append(out, zipRecord(header, row))
	}
}

// ReadXLSX reads the first sheet: a header row, then one record per row.
func ReadXLSX(path string) ([]Record, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("importer: %s has no sheets", path)
	}
	sheet := f.Sheets[0]

	var (
		header []string
		out    []Record
	)
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if header == nil {
			header = cells
			continue
		}
		if isBlank(cells) {
			continue
		}
		out = append(out, zipRecord(header, cells))
	}
	return out, nil
}

func zipRecord(header, row []string) Record {
	rec := make(Record, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" || i >= len(row) {
			continue
		}
		rec[name] = strings.TrimSpace(row[i])
	}
	return rec
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
