package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// CycleRequest is the JSON payload announcing that a cycle's source files
// have been downloaded, e.g. {"source":"gfs","date":"20240101","cycle":"06"}.
type CycleRequest struct {
	Source string `json:"source"`
	Date   string `json:"date"`
	Cycle  string `json:"cycle"`
}

// IngestStatus is the outcome of one cycle ingestion.
type IngestStatus string

const (
	StatusIngested IngestStatus = "ingested"
	StatusFailed   IngestStatus = "failed"
)

// IngestResult summarizes one cycle ingestion for downstream consumers.
type IngestResult struct {
	Source          string       `json:"source"`
	Date            string       `json:"date"`
	Cycle           string       `json:"cycle"`
	InitTime        time.Time    `json:"init_time"`
	Status          IngestStatus `json:"status"`
	Frames          int          `json:"frames"`
	SkippedFiles    []string     `json:"skipped_files,omitempty"`
	Variables       []string     `json:"variables,omitempty"`
	Store           string       `json:"store,omitempty"`
	Error           string       `json:"error,omitempty"`
	DurationSeconds float64      `json:"duration_seconds"`
	ProcessedAt     time.Time    `json:"processed_at"`
}
