package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Feature column names.
const (
	ColumnRecency        = "recency"
	ColumnFrequency      = "frequency"
	ColumnMonetary       = "monetary"
	ColumnTotalQuantity  = "total_quantity"
	ColumnUniqueProducts = "unique_products"
)

// RFMColumns is the default model column order.
var RFMColumns = []string{ColumnRecency, ColumnFrequency, ColumnMonetary}

// KnownColumns lists every column the feature engine can produce.
var KnownColumns = []string{
	ColumnRecency,
	ColumnFrequency,
	ColumnMonetary,
	ColumnTotalQuantity,
	ColumnUniqueProducts,
}

// IsKnownColumn reports whether name is a column the feature engine produces.
func IsKnownColumn(name string) bool {
	return slices.Contains(KnownColumns, name)
}

// CustomerFeatureVector summarizes one customer's qualifying purchases.
type CustomerFeatureVector struct {
	CustomerID     string          `json:"customer_id" csv:"customer_id"`
	Recency        int             `json:"recency" csv:"recency"`
	Frequency      int             `json:"frequency" csv:"frequency"`
	Monetary       decimal.Decimal `json:"monetary" csv:"monetary"`
	TotalQuantity  int64           `json:"total_quantity" csv:"total_quantity"`
	UniqueProducts int             `json:"unique_products" csv:"unique_products"`
}

// Value returns the named feature as a float64.
func (v CustomerFeatureVector) Value(column string) (float64, bool) {
	switch column {
	case ColumnRecency:
		return float64(v.Recency), true
	case ColumnFrequency:
		return float64(v.Frequency), true
	case ColumnMonetary:
		return v.Monetary.InexactFloat64(), true
	case ColumnTotalQuantity:
		return float64(v.TotalQuantity), true
	case ColumnUniqueProducts:
		return float64(v.UniqueProducts), true
	default:
		return 0, false
	}
}

// Point projects the vector onto the given columns in order.
func (v CustomerFeatureVector) Point(columns []string) ([]float64, error) {
	p := make([]float64, len(columns))
	for i, c := range columns {
		x, ok := v.Value(c)
		if !ok {
			return nil, &InvalidParameterError{Name: "column", Value: c, Reason: "unknown feature column"}
		}
		p[i] = x
	}
	return p, nil
}

// FilterStats counts what the feature engine kept and dropped.
type FilterStats struct {
	InputRows               int       `json:"input_rows"`
	KeptRows                int       `json:"kept_rows"`
	DroppedMissingCustomer  int       `json:"dropped_missing_customer"`
	DroppedCancelled        int       `json:"dropped_cancelled"`
	DroppedNonPositiveQty   int       `json:"dropped_non_positive_quantity"`
	DroppedNonPositivePrice int       `json:"dropped_non_positive_price"`
	CustomersSeen           int       `json:"customers_seen"`
	CustomersKept           int       `json:"customers_kept"`
	CustomersExcluded       int       `json:"customers_excluded"`
	SnapshotDate            time.Time `json:"snapshot_date"`
}

// DroppedRows returns the number of rows removed by filtering.
func (s FilterStats) DroppedRows() int {
	return s.InputRows - s.KeptRows
}

// FeatureTable is one run's customer feature vectors, keyed uniquely by
// customer and sorted by CustomerID.
type FeatureTable struct {
	Columns []string                `json:"columns"`
	Vectors []CustomerFeatureVector `json:"vectors"`
	Stats   FilterStats             `json:"stats"`
}

// NewFeatureTable validates and sorts vectors into a table.
func NewFeatureTable(columns []string, vectors []CustomerFeatureVector, stats FilterStats) (*FeatureTable, error) {
	for _, c := range columns {
		if !IsKnownColumn(c) {
			return nil, &InvalidParameterError{Name: "columns", Value: c, Reason: "unknown feature column"}
		}
	}
	// Tables loaded from files may carry a subset of columns; only the
	// columns present are held to the qualifying-customer rule.
	hasFrequency := slices.Contains(columns, ColumnFrequency)
	hasMonetary := slices.Contains(columns, ColumnMonetary)
	sorted := slices.Clone(vectors)
	slices.SortFunc(sorted, func(a, b CustomerFeatureVector) int {
		switch {
		case a.CustomerID < b.CustomerID:
			return -1
		case a.CustomerID > b.CustomerID:
			return 1
		default:
			return 0
		}
	})
	for i, v := range sorted {
		if v.CustomerID == "" {
			return nil, &DataIntegrityError{Reason: "feature vector without customer id"}
		}
		if i > 0 && sorted[i-1].CustomerID == v.CustomerID {
			return nil, &DataIntegrityError{CustomerID: v.CustomerID, Reason: "duplicate customer key"}
		}
		if (hasFrequency && v.Frequency < 1) || (hasMonetary && !v.Monetary.IsPositive()) {
			return nil, &DataIntegrityError{CustomerID: v.CustomerID, Reason: "non-qualifying feature vector"}
		}
		if v.Recency < 0 {
			return nil, &DataIntegrityError{CustomerID: v.CustomerID, Reason: "negative recency"}
		}
	}
	return &FeatureTable{
		Columns: slices.Clone(columns),
		Vectors: sorted,
		Stats:   stats,
	}, nil
}

// Len returns the number of customers in the table.
func (t *FeatureTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Vectors)
}

// Matrix projects every vector onto the table's columns.
func (t *FeatureTable) Matrix() ([][]float64, error) {
	m := make([][]float64, len(t.Vectors))
	for i, v := range t.Vectors {
		p, err := v.Point(t.Columns)
		if err != nil {
			return nil, err
		}
		m[i] = p
	}
	return m, nil
}

// Lookup returns the vector for a customer.
func (t *FeatureTable) Lookup(customerID string) (CustomerFeatureVector, bool) {
	i, ok := slices.BinarySearchFunc(t.Vectors, customerID, func(v CustomerFeatureVector, id string) int {
		switch {
		case v.CustomerID < id:
			return -1
		case v.CustomerID > id:
			return 1
		default:
			return 0
		}
	})
	if !ok {
		return CustomerFeatureVector{}, false
	}
	return t.Vectors[i], true
}
