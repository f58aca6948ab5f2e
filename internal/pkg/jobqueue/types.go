package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeMembershipSweep  JobType = "membership_sweep"
	JobTypeMembershipRepair JobType = "membership_repair"
	JobTypeMembershipNotify JobType = "membership_notify"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// SweepJobPayload is the payload of a scheduled or manual expiry sweep
type SweepJobPayload struct {
	Trigger string `json:"trigger"` // "ticker" or "manual"
}

func (p SweepJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"trigger": p.Trigger,
	}
}

func SweepJobPayloadFromMap(data map[string]interface{}) (*SweepJobPayload, error) {
	return decodePayload[SweepJobPayload](data)
}

// RepairJobPayload asks for a repair of one user
type RepairJobPayload struct {
	UserID uint   `json:"user_id"`
	Reason string `json:"reason"`
}

func (p RepairJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
		"reason":  p.Reason,
	}
}

func RepairJobPayloadFromMap(data map[string]interface{}) (*RepairJobPayload, error) {
	return decodePayload[RepairJobPayload](data)
}

// NotifyJobPayload carries the final membership of a user to the notification sink
type NotifyJobPayload struct {
	Kind             string    `json:"kind"`
	UserID           uint      `json:"user_id"`
	MembershipID     uint      `json:"membership_id"`
	MembershipTypeID uint      `json:"membership_type_id"`
	EndAt            time.Time `json:"end_at"`
}

func (p NotifyJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":               p.Kind,
		"user_id":            p.UserID,
		"membership_id":      p.MembershipID,
		"membership_type_id": p.MembershipTypeID,
		"end_at":             p.EndAt.UTC().Format(time.RFC3339Nano),
	}
}

func NotifyJobPayloadFromMap(data map[string]interface{}) (*NotifyJobPayload, error) {
	return decodePayload[NotifyJobPayload](data)
}

// Payloads travel through Redis as JSON maps, so decoding goes back through JSON.
func decodePayload[T any](data map[string]interface{}) (*T, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload T
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsPermanentlyFailed fails the job without leaving retries.
func (j *Job) MarkAsPermanentlyFailed(errorMsg string) {
	j.MarkAsFailed(errorMsg)
	if j.RetryCount < j.MaxRetries {
		j.RetryCount = j.MaxRetries
	}
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
