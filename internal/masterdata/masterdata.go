// Package masterdata reads the analyst-maintained master workbook: the
// per-region ceilings of the adoption forecast and the company index table
// used by the indexed metric estimate.
package masterdata

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/market-forecast/internal/estimate"
	"github.com/sells-group/market-forecast/internal/forecast"
)

// LoadCeilings reads a sheet with "region" and "ceiling" header columns.
// Blank rows are ignored; a repeated region or a non-positive ceiling is an
// error.
func LoadCeilings(path, sheet string) (forecast.CeilingTable, error) {
	s, err := readSheet(path, sheet)
	if err != nil {
		return forecast.CeilingTable{}, err
	}
	if err := s.require("region", "ceiling"); err != nil {
		return forecast.CeilingTable{}, err
	}

	values := make(map[string]float64)
	for i, row := range s.rows {
		region := s.value(row, "region")
		if region == "" {
			continue
		}
		if _, dup := values[region]; dup {
			return forecast.CeilingTable{}, eris.Errorf("masterdata: region %q appears twice in %s (row %d)", region, sheet, i+2)
		}
		v, err := parseNumber(s.value(row, "ceiling"))
		if err != nil {
			return forecast.CeilingTable{}, eris.Wrapf(err, "masterdata: ceiling for %q (row %d)", region, i+2)
		}
		values[region] = v
	}

	table, err := forecast.NewCeilingTable(values)
	if err != nil {
		return forecast.CeilingTable{}, eris.Wrapf(err, "masterdata: %s", sheet)
	}
	return table, nil
}

// LoadMasterTable reads the company index table. channel_type is optional;
// the index period column may be named index_period or index_time.
func LoadMasterTable(path, sheet string) ([]estimate.MasterEntry, error) {
	s, err := readSheet(path, sheet)
	if err != nil {
		return nil, err
	}
	if _, ok := s.cols["index_period"]; !ok {
		if c, ok := s.cols["index_time"]; ok {
			s.cols["index_period"] = c
		}
	}
	if err := s.require("company", "service_type", "index_period", "base_territory", "index_metric"); err != nil {
		return nil, err
	}

	var out []estimate.MasterEntry
	for i, row := range s.rows {
		company := s.value(row, "company")
		if company == "" {
			continue
		}
		metric, err := parseNumber(s.value(row, "index_metric"))
		if err != nil {
			return nil, eris.Wrapf(err, "masterdata: index_metric for %q (row %d)", company, i+2)
		}
		out = append(out, estimate.MasterEntry{
			Company:       company,
			ServiceType:   s.value(row, "service_type"),
			ChannelType:   s.value(row, "channel_type"),
			IndexPeriod:   s.value(row, "index_period"),
			BaseTerritory: s.value(row, "base_territory"),
			BaseCurrency:  s.value(row, "base_currency"),
			IndexMetric:   metric,
		})
	}
	return out, nil
}

type sheetData struct {
	name string
	cols map[string]int
	rows [][]string
}

func readSheet(path, name string) (*sheetData, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "masterdata: open %s", path)
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("masterdata: sheet %q not found in %s", name, path)
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("masterdata: sheet %q is empty", name)
	}

	s := &sheetData{name: name, cols: make(map[string]int)}
	for j, h := range rowToStrings(sheet.Rows[0]) {
		key := strings.ToLower(strings.TrimSpace(h))
		if key != "" {
			s.cols[key] = j
		}
	}
	for _, row := range sheet.Rows[1:] {
		s.rows = append(s.rows, rowToStrings(row))
	}
	return s, nil
}

func (s *sheetData) require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := s.cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("masterdata: sheet %q is missing column(s) %s", s.name, strings.Join(missing, ", "))
	}
	return nil
}

func (s *sheetData) value(row []string, col string) string {
	j, ok := s.cols[col]
	if !ok || j >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[j])
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse %q", s)
	}
	return v, nil
}
