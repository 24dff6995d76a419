package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/segment-cli/internal/model"
)

type field int

const (
	fieldInvoice field = iota
	fieldStockCode
	fieldDescription
	fieldQuantity
	fieldInvoiceTime
	fieldUnitPrice
	fieldCustomer
	numFields
)

var fieldNames = [numFields]string{"InvoiceNo", "StockCode", "Description", "Quantity", "InvoiceDate", "UnitPrice", "CustomerID"}

// headerAliases maps normalized header names (lowercase, no spaces,
// underscores or dashes) to record fields.
var headerAliases = map[string]field{
	"invoiceno":   fieldInvoice,
	"invoice":     fieldInvoice,
	"invoiceid":   fieldInvoice,
	"stockcode":   fieldStockCode,
	"description": fieldDescription,
	"quantity":    fieldQuantity,
	"qty":         fieldQuantity,
	"invoicedate": fieldInvoiceTime,
	"invoicetime": fieldInvoiceTime,
	"unitprice":   fieldUnitPrice,
	"price":       fieldUnitPrice,
	"customerid":  fieldCustomer,
	"customer":    fieldCustomer,
}

var requiredFields = []field{fieldInvoice, fieldQuantity, fieldInvoiceTime, fieldUnitPrice, fieldCustomer}

// DefaultDateLayouts are tried in order for textual timestamps.
var DefaultDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/06 15:04",
}

// maxLoggedRejects caps per-row warnings in lenient mode.
const maxLoggedRejects = 10

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

// mapHeader resolves column positions. Unknown columns are ignored.
func mapHeader(header []string) ([numFields]int, error) {
	var idx [numFields]int
	for i := range idx {
		idx[i] = -1
	}
	for i, h := range header {
		if f, ok := headerAliases[normalizeHeader(h)]; ok && idx[f] < 0 {
			idx[f] = i
		}
	}
	var missing []string
	for _, f := range requiredFields {
		if idx[f] < 0 {
			missing = append(missing, fieldNames[f])
		}
	}
	if len(missing) > 0 {
		return idx, eris.Errorf("ingest: header is missing required columns %v", missing)
	}
	return idx, nil
}

// RowError describes a row that could not be parsed.
type RowError struct {
	Row    int // 1-based, header is row 1
	Column string
	Value  string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("ingest: row %d column %s: %s (value %q)", e.Row, e.Column, e.Reason, e.Value)
}

type rowParser struct {
	idx      [numFields]int
	layouts  []string
	loc      *time.Location
	date1904 bool
}

func (p *rowParser) cell(row []string, f field) string {
	i := p.idx[f]
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (p *rowParser) parse(rowNum int, row []string) (model.TransactionRecord, error) {
	fail := func(f field, v, reason string) (model.TransactionRecord, error) {
		return model.TransactionRecord{}, &RowError{Row: rowNum, Column: fieldNames[f], Value: v, Reason: reason}
	}

	rec := model.TransactionRecord{
		InvoiceID:   p.cell(row, fieldInvoice),
		StockCode:   p.cell(row, fieldStockCode),
		Description: p.cell(row, fieldDescription),
		CustomerID:  NormalizeCustomerID(p.cell(row, fieldCustomer)),
	}
	if rec.InvoiceID == "" {
		return fail(fieldInvoice, "", "empty invoice number")
	}

	qs := p.cell(row, fieldQuantity)
	q, err := parseQuantity(qs)
	if err != nil {
		return fail(fieldQuantity, qs, "not an integer")
	}
	rec.Quantity = q

	ps := p.cell(row, fieldUnitPrice)
	price, err := ParsePrice(ps)
	if err != nil {
		return fail(fieldUnitPrice, ps, "not a number")
	}
	rec.UnitPrice = price

	ts := p.cell(row, fieldInvoiceTime)
	at, err := p.parseTime(ts)
	if err != nil {
		return fail(fieldInvoiceTime, ts, "unrecognized timestamp")
	}
	rec.InvoiceTime = at

	return rec, nil
}

func (p *rowParser) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, eris.New("empty")
	}
	for _, layout := range p.layouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, nil
		}
	}
	// Spreadsheet serial date.
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		t := xlsx.TimeFromExcelTime(f, p.date1904).Round(time.Second)
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, p.loc), nil
	}
	return time.Time{}, eris.Errorf("no layout matches %q", s)
}

// NormalizeCustomerID trims s and strips a float suffix such as "17850.0",
// which spreadsheet exports produce for numeric ids.
func NormalizeCustomerID(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return ""
	}
	if head, tail, ok := strings.Cut(s, "."); ok && head != "" && strings.Trim(tail, "0") == "" {
		if _, err := strconv.ParseInt(head, 10, 64); err == nil {
			return head
		}
	}
	return s
}

func parseQuantity(s string) (int64, error) {
	if q, err := strconv.ParseInt(s, 10, 64); err == nil {
		return q, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, eris.Errorf("quantity %q is not an integer", s)
	}
	return int64(f), nil
}

// ParsePrice parses a unit price exactly. Values carrying binary float noise
// from spreadsheet storage ("2.5499999999999998") are rounded to the
// shortest decimal that round-trips the same float.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, eris.Wrapf(err, "price %q", s)
	}
	if d.Exponent() < -10 {
		d = decimal.NewFromFloat(d.InexactFloat64())
	}
	return d, nil
}

// collect converts a row stream (header first) into records.
func collect(ctx context.Context, rows <-chan []string, opts Options) (*Result, error) {
	header, ok := <-rows
	if !ok {
		return &Result{}, nil
	}
	idx, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	layouts := opts.DateLayouts
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	p := &rowParser{idx: idx, layouts: layouts, loc: loc, date1904: opts.date1904}

	res := &Result{}
	rowNum := 1
	for row := range rows {
		rowNum++
		if blank(row) {
			continue
		}
		res.Rows++
		rec, err := p.parse(rowNum, row)
		if err != nil {
			if opts.Strict {
				return nil, err
			}
			res.Skipped++
			if res.Skipped <= maxLoggedRejects {
				zap.L().Warn("ingest: skipping malformed row", zap.Error(err))
			}
			continue
		}
		res.Records = append(res.Records, rec)
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: context cancelled")
		}
	}
	return res, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
