package features

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/segment-cli/internal/model"
)

// accumulator is the partial aggregate for one customer. Merging two
// accumulators is commutative and associative.
type accumulator struct {
	lastPurchase time.Time
	invoices     map[string]struct{}
	products     map[string]struct{}
	monetary     decimal.Decimal
	quantity     int64
}

func newAccumulator() *accumulator {
	return &accumulator{
		invoices: make(map[string]struct{}),
		products: make(map[string]struct{}),
		monetary: decimal.Zero,
	}
}

// add folds one qualifying record in. Repeated (invoice, stock code) lines
// are summed.
func (a *accumulator) add(r model.TransactionRecord) {
	if r.InvoiceTime.After(a.lastPurchase) {
		a.lastPurchase = r.InvoiceTime
	}
	a.invoices[strings.TrimSpace(r.InvoiceID)] = struct{}{}
	a.products[strings.TrimSpace(r.StockCode)] = struct{}{}
	a.monetary = a.monetary.Add(r.LineTotal())
	a.quantity += r.Quantity
}

func (a *accumulator) merge(b *accumulator) {
	if b.lastPurchase.After(a.lastPurchase) {
		a.lastPurchase = b.lastPurchase
	}
	for k := range b.invoices {
		a.invoices[k] = struct{}{}
	}
	for k := range b.products {
		a.products[k] = struct{}{}
	}
	a.monetary = a.monetary.Add(b.monetary)
	a.quantity += b.quantity
}

// vector finalizes the aggregate relative to a snapshot.
func (a *accumulator) vector(customerID string, snapshot time.Time) (model.CustomerFeatureVector, error) {
	age := snapshot.Sub(a.lastPurchase)
	if age < 0 {
		return model.CustomerFeatureVector{}, &model.DataIntegrityError{
			CustomerID: customerID,
			Reason:     "snapshot date " + snapshot.Format(time.RFC3339) + " precedes last purchase " + a.lastPurchase.Format(time.RFC3339),
		}
	}
	return model.CustomerFeatureVector{
		CustomerID:     customerID,
		Recency:        int(age / (24 * time.Hour)),
		Frequency:      len(a.invoices),
		Monetary:       a.monetary,
		TotalQuantity:  a.quantity,
		UniqueProducts: len(a.products),
	}, nil
}

// shard is the aggregate of one contiguous slice of input rows.
type shard struct {
	customers map[string]*accumulator
	seen      map[string]struct{}
	stats     model.FilterStats
	latest    time.Time
}

func newShard() *shard {
	return &shard{
		customers: make(map[string]*accumulator),
		seen:      make(map[string]struct{}),
	}
}

func (s *shard) add(r model.TransactionRecord, cancellationPrefix string) {
	s.stats.InputRows++
	id := strings.TrimSpace(r.CustomerID)
	if id != "" {
		s.seen[id] = struct{}{}
	}
	reason := classify(r, cancellationPrefix)
	reason.count(&s.stats)
	if reason != keepRow {
		return
	}
	acc, ok := s.customers[id]
	if !ok {
		acc = newAccumulator()
		s.customers[id] = acc
	}
	acc.add(r)
	if r.InvoiceTime.After(s.latest) {
		s.latest = r.InvoiceTime
	}
}

// merge folds o into s. Shards may be merged in any order.
func (s *shard) merge(o *shard) {
	for id, acc := range o.customers {
		if mine, ok := s.customers[id]; ok {
			mine.merge(acc)
		} else {
			s.customers[id] = acc
		}
	}
	for id := range o.seen {
		s.seen[id] = struct{}{}
	}
	s.stats.InputRows += o.stats.InputRows
	s.stats.KeptRows += o.stats.KeptRows
	s.stats.DroppedMissingCustomer += o.stats.DroppedMissingCustomer
	s.stats.DroppedCancelled += o.stats.DroppedCancelled
	s.stats.DroppedNonPositiveQty += o.stats.DroppedNonPositiveQty
	s.stats.DroppedNonPositivePrice += o.stats.DroppedNonPositivePrice
	if o.latest.After(s.latest) {
		s.latest = o.latest
	}
}
