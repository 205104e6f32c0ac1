package worker

import (
	"time"

	"github.com/rameshiyer27/bastion/internal/broker"
	"github.com/rameshiyer27/bastion/internal/risk"
)

// JobStatus tracks an execution job through its lifecycle
type JobStatus string

const (
	JobPending     JobStatus = "PENDING"
	JobExecuting   JobStatus = "EXECUTING"
	JobCompleted   JobStatus = "COMPLETED"
	JobNeutralized JobStatus = "NEUTRALIZED" // unwound back to net zero
	JobFailed      JobStatus = "FAILED"      // unwind itself failed, human action required
	JobRejected    JobStatus = "REJECTED"
)

// SliceRecord captures what happened to one slice of a job
type SliceRecord struct {
	Index          int
	Quantity       int
	OrderID        string
	Status         broker.OrderStatus
	FilledQuantity int
	AveragePrice   float64
	Error          string
}

// ExecutionJob is one approved trade moving through the worker. A job
// either fills completely or is neutralized back to a net-zero
// position; partial fills never survive.
type ExecutionJob struct {
	JobID         string
	Intent        risk.TradeIntent
	Sizing        risk.SizingResult
	Status        JobStatus
	Slices        []SliceRecord
	FailureReason string
	CreatedAt     time.Time
	StartedAt     time.Time
	EndedAt       time.Time
}

// FilledQuantity sums the fills across all slices
func (j *ExecutionJob) FilledQuantity() int {
	total := 0
	for _, s := range j.Slices {
		total += s.FilledQuantity
	}
	return total
}

// AverageFillPrice returns the volume-weighted fill price across slices
func (j *ExecutionJob) AverageFillPrice() float64 {
	totalQty, totalCost := 0, 0.0
	for _, s := range j.Slices {
		totalQty += s.FilledQuantity
		totalCost += float64(s.FilledQuantity) * s.AveragePrice
	}
	if totalQty == 0 {
		return 0
	}
	return totalCost / float64(totalQty)
}

// IsTerminal reports whether the job has finished moving
func (j *ExecutionJob) IsTerminal() bool {
	switch j.Status {
	case JobCompleted, JobNeutralized, JobFailed, JobRejected:
		return true
	}
	return false
}

// clone returns a copy safe to hand outside the worker's lock
func (j *ExecutionJob) clone() ExecutionJob {
	out := *j
	out.Slices = make([]SliceRecord, len(j.Slices))
	copy(out.Slices, j.Slices)
	return out
}
