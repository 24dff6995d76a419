package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/segment-cli/internal/model"
)

// ReadFeatures parses a feature CSV written by WriteFeatures. The column
// order of the file is preserved. When expected is non-nil the header must
// name exactly those columns in that order; the check runs before any value
// is parsed. Header columns the feature engine does not produce are a schema
// mismatch in either case.
func ReadFeatures(r io.Reader, expected []string) (*model.FeatureTable, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, eris.New("export: feature file is empty")
	}
	if err != nil {
		return nil, eris.Wrap(err, "export: read feature header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) == 0 || header[0] != CustomerIDColumn {
		return nil, eris.Errorf("export: feature file must start with a %s column", CustomerIDColumn)
	}
	columns := header[1:]
	if expected != nil {
		if err := model.CheckSchema(expected, columns); err != nil {
			return nil, eris.Wrap(err, "export: feature header")
		}
	}
	if err := checkKnownColumns(columns); err != nil {
		return nil, eris.Wrap(err, "export: feature header")
	}

	var vectors []model.CustomerFeatureVector
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "export: read feature line %d", line)
		}
		v := model.CustomerFeatureVector{CustomerID: strings.TrimSpace(rec[0])}
		for j, c := range columns {
			if err := setFeature(&v, c, strings.TrimSpace(rec[j+1])); err != nil {
				return nil, eris.Wrapf(err, "export: feature line %d column %s", line, c)
			}
		}
		vectors = append(vectors, v)
	}

	table, err := model.NewFeatureTable(columns, vectors, model.FilterStats{CustomersKept: len(vectors)})
	if err != nil {
		return nil, eris.Wrap(err, "export: feature table")
	}
	return table, nil
}

func checkKnownColumns(columns []string) error {
	var known, extra []string
	for _, c := range columns {
		if model.IsKnownColumn(c) {
			known = append(known, c)
		} else {
			extra = append(extra, c)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return &model.SchemaMismatchError{Expected: known, Got: columns, Extra: extra}
}

func setFeature(v *model.CustomerFeatureVector, column, s string) error {
	var err error
	switch column {
	case model.ColumnRecency:
		v.Recency, err = strconv.Atoi(s)
	case model.ColumnFrequency:
		v.Frequency, err = strconv.Atoi(s)
	case model.ColumnMonetary:
		v.Monetary, err = decimal.NewFromString(s)
	case model.ColumnTotalQuantity:
		v.TotalQuantity, err = strconv.ParseInt(s, 10, 64)
	case model.ColumnUniqueProducts:
		v.UniqueProducts, err = strconv.Atoi(s)
	default:
		return &model.InvalidParameterError{Name: "columns", Value: column, Reason: "unknown feature column"}
	}
	return err
}
