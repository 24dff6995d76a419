// Package export writes scoring output and feature tables as CSV or JSON
// and reads feature tables back for scoring.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/segment-cli/internal/model"
)

// Output formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// CustomerIDColumn is the key column of feature files.
const CustomerIDColumn = "customer_id"

// WriteAssignments writes assignments in format.
func WriteAssignments(w io.Writer, format string, assignments []model.SegmentAssignment) error {
	if assignments == nil {
		assignments = []model.SegmentAssignment{}
	}
	return write(w, format, assignments, "assignments")
}

// WriteSummaries writes per-segment summaries in format.
func WriteSummaries(w io.Writer, format string, summaries []model.SegmentSummary) error {
	if summaries == nil {
		summaries = []model.SegmentSummary{}
	}
	return write(w, format, summaries, "summaries")
}

func write(w io.Writer, format string, v any, what string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrapf(enc.Encode(v), "export: encode %s json", what)
	case FormatCSV, "":
		cw := csv.NewWriter(w)
		if err := csvutil.NewEncoder(cw).Encode(v); err != nil {
			return eris.Wrapf(err, "export: encode %s csv", what)
		}
		cw.Flush()
		return eris.Wrapf(cw.Error(), "export: flush %s csv", what)
	default:
		return eris.Errorf("export: unsupported format %q (want csv or json)", format)
	}
}

// ReadAssignments parses assignments written by WriteAssignments as CSV.
func ReadAssignments(r io.Reader) ([]model.SegmentAssignment, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "export: read assignments header")
	}
	var out []model.SegmentAssignment
	if err := dec.Decode(&out); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "export: decode assignments")
	}
	return out, nil
}

// WriteFeatures writes a feature table as CSV: customer_id followed by the
// table's columns. Monetary values keep their exact decimal form.
func WriteFeatures(w io.Writer, table *model.FeatureTable) error {
	cw := csv.NewWriter(w)
	header := append([]string{CustomerIDColumn}, table.Columns...)
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write feature header")
	}
	row := make([]string, len(header))
	for _, v := range table.Vectors {
		row[0] = v.CustomerID
		for j, c := range table.Columns {
			row[j+1] = featureString(v, c)
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrapf(err, "export: write features for %s", v.CustomerID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush features")
}

func featureString(v model.CustomerFeatureVector, column string) string {
	switch column {
	case model.ColumnRecency:
		return strconv.Itoa(v.Recency)
	case model.ColumnFrequency:
		return strconv.Itoa(v.Frequency)
	case model.ColumnMonetary:
		return v.Monetary.String()
	case model.ColumnTotalQuantity:
		return strconv.FormatInt(v.TotalQuantity, 10)
	case model.ColumnUniqueProducts:
		return strconv.Itoa(v.UniqueProducts)
	}
	return ""
}
