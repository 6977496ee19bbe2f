// Package stats records purchase attempt outcomes for later analysis.
package stats

import "time"

// AttemptRecord is emitted once per terminal session outcome. It is
// append-only: the engine writes records and never reads them back.
type AttemptRecord struct {
	ID          string
	Timestamp   time.Time
	AccountID   string
	ProductName string
	ProductURL  string
	Price       float64
	Quantity    int
	Success     bool
	ErrorKind   string
	ElapsedMs   int64
	RetryCount  int
	Proxy       string
}

// Sink consumes attempt records.
type Sink interface {
	Record(record AttemptRecord) error
}

// PricePoint is one observed product price. Points are recorded only
// when the price changes, so the history reads as a step function.
type PricePoint struct {
	ID          string
	Timestamp   time.Time
	ProductURL  string
	ProductName string
	Price       float64
}

// PriceLog consumes price observations.
type PriceLog interface {
	RecordPrice(point PricePoint) error
}

// Nop discards records and price points.
type Nop struct{}

func (Nop) Record(AttemptRecord) error { return nil }

func (Nop) RecordPrice(PricePoint) error { return nil }

// Summary aggregates a set of attempt records.
type Summary struct {
	TotalAttempts      int
	SuccessfulAttempts int
	FailedAttempts     int
	SuccessRate        float64
	AverageElapsedMs   float64
}

// AccountSummary is a per-account rollup.
type AccountSummary struct {
	AccountID string
	Summary
}
