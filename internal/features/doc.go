// Package features turns raw transaction records into one RFM feature vector
// per customer.
//
// Rows are filtered before aggregation: rows without a customer, cancelled
// invoices (configurable invoice-id prefix), and rows with a non-positive
// quantity or unit price never contribute. Aggregation is sharded across
// workers; shard results merge with sum, max, and set union, so the table is
// identical for any worker count.
package features
