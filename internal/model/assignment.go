package model

// SegmentAssignment is one scored customer. Assignments are scoring output
// and are never stored inside an artifact.
type SegmentAssignment struct {
	CustomerID         string  `json:"customer_id" csv:"customer_id"`
	SegmentID          int     `json:"segment_id" csv:"segment_id"`
	SegmentLabel       string  `json:"segment_label" csv:"segment_label"`
	DistanceToCentroid float64 `json:"distance_to_centroid" csv:"distance_to_centroid"`
}

// SegmentSummary aggregates the assignments of one segment.
type SegmentSummary struct {
	SegmentID     int     `json:"segment_id" csv:"segment_id"`
	SegmentLabel  string  `json:"segment_label" csv:"segment_label"`
	Customers     int     `json:"customers" csv:"customers"`
	MeanRecency   float64 `json:"mean_recency" csv:"mean_recency"`
	MeanFrequency float64 `json:"mean_frequency" csv:"mean_frequency"`
	MeanMonetary  float64 `json:"mean_monetary" csv:"mean_monetary"`
	MeanDistance  float64 `json:"mean_distance" csv:"mean_distance"`
}
