package protocol

import "time"

// Role of a node instance in a training run.
type Role string

const (
	RoleLearner   Role = "learner"
	RoleCollector Role = "collector"
)

func (r Role) Valid() bool {
	switch r {
	case RoleLearner, RoleCollector:
		return true
	default:
		return false
	}
}

// Kind of a control plane task.
type TaskKind string

const (
	// Initialize the instance with its policy and environment configuration.
	TaskStart TaskKind = "start"

	// Ask a learner how much data it wants for its next iteration.
	TaskDataDemand TaskKind = "data_demand"

	// Run one training iteration on the referenced data.
	TaskLearn TaskKind = "learn"

	// Run one rollout of the current policy and publish the step data.
	TaskCollect TaskKind = "collect"

	// Shut the instance down. Deliverable while another task is in flight.
	TaskClose TaskKind = "close"
)

// Kind of a payload stored by the middleware.
type PayloadKind string

const (
	PayloadStepData PayloadKind = "stepdata"
	PayloadPolicy   PayloadKind = "policy"
)

// DataMeta describes a unit of step data stored by the middleware.
// Only the metadata travels through the control plane; the payload
// itself is exchanged out-of-band.
type DataMeta struct {
	// Middleware handle of the payload.
	Handle string `json:"handle"`

	// Sampling priority. Higher is sampled first.
	Priority float64 `json:"priority"`

	// Number of environment steps in the payload.
	Length int `json:"length"`

	// Size of the stored payload in bytes.
	Size int64 `json:"size"`

	// Identity of the collector that produced the payload.
	Collector string `json:"collector"`

	// Time of publication.
	CreatedAt time.Time `json:"created_at"`
}

// PolicyMeta describes a policy snapshot stored by the middleware.
type PolicyMeta struct {
	// Middleware handle of the state dict payload.
	Handle string `json:"handle"`

	// Monotonically increasing policy version.
	Version int64 `json:"version"`

	// Hyper-parameters the snapshot was trained with.
	Hyperparams map[string]float64 `json:"hyperparams,omitempty"`
}

// TrainStats reports the outcome of one training iteration.
type TrainStats struct {
	Iteration int64   `json:"iteration"`
	Loss      float64 `json:"loss"`
	GradNorm  float64 `json:"grad_norm"`
	Samples   int     `json:"samples"`
}

// EpisodeResult reports the outcome of one collect rollout.
type EpisodeResult struct {
	Episodes     int           `json:"episodes"`
	Steps        int           `json:"steps"`
	Reward       float64       `json:"reward"`
	Duration     time.Duration `json:"duration"`
	EnvStepsPerS float64       `json:"env_steps_per_s"`
}

// DataDemand is a learner's answer to a data demand task.
type DataDemand struct {
	// Number of data units wanted for the next iteration.
	Count int `json:"count"`

	// Minimum rollout length the learner can consume.
	MinLength int `json:"min_length"`
}

// StartConfig carries the configuration delivered with a start task.
type StartConfig struct {
	// Policy snapshot to start from, if any.
	Policy *PolicyMeta `json:"policy,omitempty"`

	// Opaque policy configuration.
	PolicyConfig map[string]any `json:"policy_config,omitempty"`

	// Opaque environment configuration. Collectors only.
	EnvConfig map[string]any `json:"env_config,omitempty"`

	// Number of environment steps per collect rollout. Collectors only.
	RolloutLength int `json:"rollout_length,omitempty"`
}

// StartInfo is an instance's answer to a start task.
type StartInfo struct {
	Instance string            `json:"instance"`
	Role     Role              `json:"role"`
	Platform map[string]string `json:"platform,omitempty"`
}

// CloseInfo is an instance's answer to a close task.
type CloseInfo struct {
	// Learner: middleware handle of the final model save.
	FinalPolicy *PolicyMeta `json:"final_policy,omitempty"`

	// Collector: cumulative reward over the run.
	TotalReward float64 `json:"total_reward"`

	// Collector: total environment steps over the run.
	TotalSteps int `json:"total_steps"`
}

// LearnDirective carries the data references for a learn task.
type LearnDirective struct {
	Data []DataMeta `json:"data"`
}

// LearnResult is a learner's answer to a learn task.
type LearnResult struct {
	// New policy snapshot published via the middleware.
	Policy PolicyMeta `json:"policy"`

	// Statistics for the iteration.
	Stats TrainStats `json:"stats"`

	// Updated sampling priorities, keyed by middleware handle.
	Priorities map[string]float64 `json:"priorities,omitempty"`
}

// CollectDirective carries the policy reference for a collect task.
type CollectDirective struct {
	// Policy snapshot to collect with.
	Policy *PolicyMeta `json:"policy,omitempty"`

	// Number of environment steps to roll out.
	RolloutLength int `json:"rollout_length"`
}

// CollectResult is a collector's answer to a collect task.
type CollectResult struct {
	// Metadata of the published step data.
	Data DataMeta `json:"data"`

	// Episode statistics for the rollout.
	Episode EpisodeResult `json:"episode"`
}

// TaskRequest is a unit of coordinator issued work addressed to a
// single instance. Exactly one TaskResult is expected per request
// before the next request of the same kind is issued.
type TaskRequest struct {
	TaskId   string   `json:"task_id"`
	Kind     TaskKind `json:"kind"`
	Instance string   `json:"instance"`

	Start   *StartConfig      `json:"start,omitempty"`
	Learn   *LearnDirective   `json:"learn,omitempty"`
	Collect *CollectDirective `json:"collect,omitempty"`
}

// TaskResult is an instance's response to a TaskRequest.
type TaskResult struct {
	TaskId   string   `json:"task_id"`
	Kind     TaskKind `json:"kind"`
	Instance string   `json:"instance"`

	// Empty on success, the error message otherwise.
	Error string `json:"error,omitempty"`

	Start   *StartInfo     `json:"start,omitempty"`
	Demand  *DataDemand    `json:"demand,omitempty"`
	Learn   *LearnResult   `json:"learn,omitempty"`
	Collect *CollectResult `json:"collect,omitempty"`
	Close   *CloseInfo     `json:"close,omitempty"`
}

func (r *TaskResult) Ok() bool {
	return r.Error == ""
}

// Status of a node stream update.
type NodeUpdateStatus string

const (
	// First message on an attach stream, announcing the instance.
	NodeEnlisting NodeUpdateStatus = "enlisting"

	// A task result follows.
	NodeTaskResult NodeUpdateStatus = "task_result"

	// The node is disconnecting on its own initiative.
	NodeClosing NodeUpdateStatus = "closing"
)

// NodeUpdate is a message sent from a node to the coordinator on
// the attach stream.
type NodeUpdate struct {
	Status   NodeUpdateStatus  `json:"status"`
	Instance string            `json:"instance"`
	Role     Role              `json:"role"`
	Platform map[string]string `json:"platform,omitempty"`
	Result   *TaskResult       `json:"result,omitempty"`
}

// RegisterRequest asks the operator for the roster of a run.
type RegisterRequest struct {
	RunId string `json:"run_id"`
}

// InstanceInfo describes one managed node process.
type InstanceInfo struct {
	Role     Role   `json:"role"`
	Instance string `json:"instance"`
	Endpoint string `json:"endpoint"`
}

// Roster is the operator's answer to a register request.
type Roster struct {
	RunId     string         `json:"run_id"`
	Instances []InstanceInfo `json:"instances"`
}

func (r *Roster) CountByRole(role Role) int {
	count := 0
	for _, instance := range r.Instances {
		if instance.Role == role {
			count++
		}
	}
	return count
}
