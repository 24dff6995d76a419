package features

import (
	"strings"

	"github.com/sells-group/segment-cli/internal/model"
)

// dropReason classifies why a row is excluded. A row failing several rules
// is counted under the first one in declaration order.
type dropReason int

const (
	keepRow dropReason = iota
	dropMissingCustomer
	dropCancelled
	dropNonPositiveQty
	dropNonPositivePrice
)

// classify applies the filtering rules to one record.
func classify(r model.TransactionRecord, cancellationPrefix string) dropReason {
	switch {
	case !r.HasCustomer():
		return dropMissingCustomer
	case IsCancellation(r.InvoiceID, cancellationPrefix):
		return dropCancelled
	case r.Quantity <= 0:
		return dropNonPositiveQty
	case !r.UnitPrice.IsPositive():
		return dropNonPositivePrice
	default:
		return keepRow
	}
}

// IsCancellation reports whether an invoice id carries the cancellation
// prefix. An empty prefix disables the rule.
func IsCancellation(invoiceID, prefix string) bool {
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(invoiceID), prefix)
}

// count tallies a drop reason into stats.
func (d dropReason) count(s *model.FilterStats) {
	switch d {
	case dropMissingCustomer:
		s.DroppedMissingCustomer++
	case dropCancelled:
		s.DroppedCancelled++
	case dropNonPositiveQty:
		s.DroppedNonPositiveQty++
	case dropNonPositivePrice:
		s.DroppedNonPositivePrice++
	default:
		s.KeptRows++
	}
}
