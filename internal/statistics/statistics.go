package statistics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics contains counters for one remix run: the normalization batch,
// the submitted jobs, and the downloaded results.
type Statistics struct {
	ImagesNormalized    int64
	ImagesPassedThrough int64
	BytesIn             int64
	BytesOut            int64

	JobsSubmitted int64
	JobsSucceeded int64
	JobsFailed    int64
	JobsCanceled  int64

	OutputsDownloaded int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Errors []StatError

	mutex sync.RWMutex
}

// StatError represents an error that occurred during a run.
type StatError struct {
	Context   string
	Error     string
	Timestamp time.Time
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Errors:    make([]StatError, 0),
	}
}

// RecordNormalization records one asset passing through the normalizer.
// passedThrough marks fast-path assets that were already within budget.
func (s *Statistics) RecordNormalization(bytesIn, bytesOut int64, passedThrough bool) {
	if passedThrough {
		atomic.AddInt64(&s.ImagesPassedThrough, 1)
	} else {
		atomic.AddInt64(&s.ImagesNormalized, 1)
	}
	atomic.AddInt64(&s.BytesIn, bytesIn)
	atomic.AddInt64(&s.BytesOut, bytesOut)
}

// RecordSubmission increases the count of submitted jobs by 1.
func (s *Statistics) RecordSubmission() {
	atomic.AddInt64(&s.JobsSubmitted, 1)
}

// RecordTerminalStatus records the terminal outcome of a job.
func (s *Statistics) RecordTerminalStatus(status string) {
	switch strings.ToLower(status) {
	case "succeeded":
		atomic.AddInt64(&s.JobsSucceeded, 1)
	case "failed":
		atomic.AddInt64(&s.JobsFailed, 1)
	case "canceled":
		atomic.AddInt64(&s.JobsCanceled, 1)
	}
}

// RecordDownload increases the count of downloaded result images by 1.
func (s *Statistics) RecordDownload() {
	atomic.AddInt64(&s.OutputsDownloaded, 1)
}

// AddError records an error with its context.
func (s *Statistics) AddError(context string, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Errors = append(s.Errors, StatError{
		Context:   context,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

// ErrorCount returns the number of recorded errors.
func (s *Statistics) ErrorCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.Errors)
}

// Finish marks the run as complete and fixes its duration.
func (s *Statistics) Finish() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SavingsPercent returns the share of input bytes eliminated by compression.
func (s *Statistics) SavingsPercent() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	out := atomic.LoadInt64(&s.BytesOut)
	if in == 0 {
		return 0
	}
	return float64(in-out) * 100 / float64(in)
}

// GetSummary returns a human-readable summary of the run.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	errCount := len(s.Errors)
	s.mutex.RUnlock()

	if duration == 0 {
		duration = time.Since(s.StartTime)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Images: %d normalized, %d already within budget (%.1f%% bytes saved)\n",
		atomic.LoadInt64(&s.ImagesNormalized),
		atomic.LoadInt64(&s.ImagesPassedThrough),
		s.SavingsPercent())
	fmt.Fprintf(&b, "Jobs: %d submitted, %d succeeded, %d failed, %d canceled\n",
		atomic.LoadInt64(&s.JobsSubmitted),
		atomic.LoadInt64(&s.JobsSucceeded),
		atomic.LoadInt64(&s.JobsFailed),
		atomic.LoadInt64(&s.JobsCanceled))
	fmt.Fprintf(&b, "Results downloaded: %d\n", atomic.LoadInt64(&s.OutputsDownloaded))
	fmt.Fprintf(&b, "Errors: %d\n", errCount)
	fmt.Fprintf(&b, "Duration: %s", duration.Round(time.Millisecond))
	return b.String()
}
