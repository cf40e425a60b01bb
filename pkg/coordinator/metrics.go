package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exposes the coordinator statistics through the
// default prometheus registry, served by the HTTP server's /metrics
// endpoint.
func RegisterMetrics(coordinator Coordinator) {
	gauge := func(name, help string, value func(*Statistics) int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: name,
				Help: help,
			},
			func() float64 { return float64(value(coordinator.Statistics())) },
		)
	}

	prometheus.MustRegister(
		gauge("drover_connections",
			"Number of attached instances.",
			func(s *Statistics) int64 { return s.Connections }),
		gauge("drover_failed_instances",
			"Number of instances marked failed.",
			func(s *Statistics) int64 { return s.FailedInstances }),
		gauge("drover_tasks_issued_total",
			"Total number of issued tasks.",
			func(s *Statistics) int64 { return s.IssuedTasks }),
		gauge("drover_tasks_completed_total",
			"Total number of successfully answered tasks.",
			func(s *Statistics) int64 { return s.CompletedTasks }),
		gauge("drover_tasks_failed_total",
			"Total number of tasks that timed out or failed.",
			func(s *Statistics) int64 { return s.FailedTasks }),
		gauge("drover_learn_iterations_total",
			"Total number of completed learn iterations.",
			func(s *Statistics) int64 { return s.LearnIterations }),
		gauge("drover_episodes_total",
			"Total number of collected episodes.",
			func(s *Statistics) int64 { return s.Episodes }),
		gauge("drover_env_steps_total",
			"Total number of environment steps across all collectors.",
			func(s *Statistics) int64 { return s.EnvSteps }),
		gauge("drover_replay_entries",
			"Number of data units in the replay registry.",
			func(s *Statistics) int64 { return s.ReplayEntries }),
		gauge("drover_policy_version",
			"Version of the most recently published policy.",
			func(s *Statistics) int64 { return s.PolicyVersion }),
	)
}
