package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// WriteCSV writes t to <dir>/<sheet>.csv, creating dir when needed, and
// returns the file path.
func WriteCSV(dir string, t Table) (string, error) {
	if t.Sheet == "" {
		return "", eris.New("report: table has no sheet name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "report: create %s", dir)
	}

	path := filepath.Join(dir, t.Sheet+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "report: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		return "", eris.Wrap(err, "report: write csv header")
	}
	record := make([]string, t.Width())
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatCell(row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return "", eris.Wrap(err, "report: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrapf(err, "report: flush %s", path)
	}

	zap.L().Info("csv written", zap.String("path", path), zap.Int("rows", len(t.Rows)))
	return path, nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return formatDate(x)
	default:
		return fmt.Sprint(x)
	}
}
