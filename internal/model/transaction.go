package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is one line of a retail invoice as supplied by the loader.
// Quantity is signed: returns and corrections arrive as negative quantities.
type TransactionRecord struct {
	InvoiceID   string          `json:"invoice_id" csv:"invoice_id"`
	StockCode   string          `json:"stock_code" csv:"stock_code"`
	Description string          `json:"description" csv:"description"`
	Quantity    int64           `json:"quantity" csv:"quantity"`
	InvoiceTime time.Time       `json:"invoice_time" csv:"invoice_time"`
	UnitPrice   decimal.Decimal `json:"unit_price" csv:"unit_price"`
	CustomerID  string          `json:"customer_id,omitempty" csv:"customer_id"` // empty means unknown
}

// HasCustomer reports whether the record can be attributed to a customer.
func (r TransactionRecord) HasCustomer() bool {
	return strings.TrimSpace(r.CustomerID) != ""
}

// LineTotal returns quantity × unit price.
func (r TransactionRecord) LineTotal() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(r.Quantity))
}
