package node

import (
	"fmt"
	"sync"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/middleware"
	"github.com/drover-io/drover/pkg/pipeline"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

// The learner role. Owns the model state: learn tasks feed the
// directive's payloads through the data pipeline, run one training
// iteration per batch and publish the updated policy snapshot back.
type learner struct {
	config *Config
	store  middleware.Middleware
	step   TrainStep

	mu      sync.Mutex
	started bool
	version int64
	current *protocol.PolicyMeta
}

func NewLearner(config *Config, store middleware.Middleware, step TrainStep) Role {
	return &learner{
		config: config,
		store:  store,
		step:   step,
	}
}

func (l *learner) Start(config *protocol.StartConfig) (*protocol.StartInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// A start after a lost link re-delivers the same answer.
	if !l.started {
		l.started = true

		if config.Policy != nil {
			l.current = config.Policy
			l.version = config.Policy.Version
			log.Info("resuming from policy", config.Policy.Handle)
		}
	}

	return &protocol.StartInfo{
		Instance: l.config.Instance,
		Role:     protocol.RoleLearner,
		Platform: LoadPlatform(),
	}, nil
}

func (l *learner) Handle(task *protocol.TaskRequest) (*protocol.TaskResult, error) {
	switch task.Kind {
	case protocol.TaskDataDemand:
		return &protocol.TaskResult{
			Demand: &protocol.DataDemand{
				Count:     l.config.BatchesPerIteration,
				MinLength: l.config.MinRolloutLength,
			},
		}, nil

	case protocol.TaskLearn:
		if task.Learn == nil || len(task.Learn.Data) == 0 {
			return nil, utils.ErrBadRequest
		}
		return l.learn(task.Learn)

	default:
		return nil, utils.ErrBadRequest
	}
}

// learn runs one iteration over the directive's payloads. The
// payloads are fetched, decoded and preprocessed by the data
// pipeline; the training loop only ever sees training ready batches.
// Batches the pipeline drops simply keep their old priority, the
// coordinator hands their data out again on a later directive.
func (l *learner) learn(directive *protocol.LearnDirective) (*protocol.TaskResult, error) {
	source := newDirectiveSource(l.store, directive.Data)
	loader := pipeline.NewLoader(source, l.processor(), l.transferDevice(), l.config.Pipeline)
	loader.Start()
	defer loader.Close()

	go func() {
		for seq := range loader.Resupply() {
			log.Warnf("nok - batch - handle: %s, awaiting resupply", directive.Data[seq].Handle)
		}
	}()

	var last *StepResult
	priorities := map[string]float64{}

	for {
		batch, err := loader.Next()
		if err != nil {
			break
		}

		result, err := l.step.Step(batch)
		if err != nil {
			return nil, fmt.Errorf("train step: %w", err)
		}

		priorities[directive.Data[batch.Seq].Handle] = result.Priority
		last = result
	}

	if err := source.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		return nil, fmt.Errorf("no batch survived the pipeline: %w", utils.ErrBadRequest)
	}

	policy, err := l.publish(last)
	if err != nil {
		return nil, err
	}

	return &protocol.TaskResult{
		Learn: &protocol.LearnResult{
			Policy:     *policy,
			Stats:      last.Stats,
			Priorities: priorities,
		},
	}, nil
}

// processor is the pipeline's preprocessing stage, the step's own
// when it implements pipeline.Processor.
func (l *learner) processor() pipeline.Processor {
	if proc, ok := l.step.(pipeline.Processor); ok {
		return proc
	}
	return pipeline.ProcessorFunc(func(records [][]float32) ([][]float32, error) {
		return records, nil
	})
}

// transferDevice is the step's device stage, nil when the step
// trains directly on host memory.
func (l *learner) transferDevice() pipeline.Device {
	device, _ := l.step.(pipeline.Device)
	return device
}

// publish stores the updated state dict and records it as the
// current policy snapshot.
func (l *learner) publish(result *StepResult) (*protocol.PolicyMeta, error) {
	meta, err := l.store.Publish(protocol.PayloadPolicy, result.StateDict)
	if err != nil {
		return nil, fmt.Errorf("publish policy: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.version++
	l.current = &protocol.PolicyMeta{
		Handle:      meta.Handle,
		Version:     l.version,
		Hyperparams: result.Hyperparams,
	}

	return l.current, nil
}

func (l *learner) Close() (*protocol.CloseInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		log.Infof("final policy: %s (v%d)", l.current.Handle, l.current.Version)
	}

	return &protocol.CloseInfo{
		FinalPolicy: l.current,
	}, nil
}
