// Package worker uploads converted files to the archive bucket with a
// bounded pool of goroutines.
package worker

import "dw2rc/internal/domain"

// Task is one converted file to mirror
type Task struct {
	Path string              `json:"path"`
	Key  string              `json:"key"`
	Size int64               `json:"size"`
	Lang string              `json:"lang"`
	Type domain.ResourceType `json:"type"`
}

// Config contains worker configuration
type Config struct {
	Bucket         string
	Retries        int
	RetryBackoffMs int
	SkipExisting   bool
}

// Failure is a task that could not be uploaded
type Failure struct {
	Key string `json:"key"`
	Err string `json:"error"`
}

// Stats summarises what the pool did
type Stats struct {
	Uploaded int64
	Skipped  int64
	Failed   int64
	Bytes    int64
	Failures []Failure
}
