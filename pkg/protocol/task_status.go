package protocol

// Lifecycle status of a control plane task as tracked by the
// coordinator's per-connection state machine.
type TaskStatus string

const (
	TaskStatusCreated   TaskStatus = "created"
	TaskStatusIssued    TaskStatus = "issued"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimeout   TaskStatus = "timeout"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Should return true if the task is no longer in progress
func (status TaskStatus) IsCompleted() bool {
	switch status {
	case TaskStatusCreated, TaskStatusIssued:
		return false
	default:
		return true
	}
}

// Should return true if the task completed without a result
func (status TaskStatus) IsError() bool {
	switch status {
	case TaskStatusFailed, TaskStatusTimeout:
		return true
	default:
		return false
	}
}
