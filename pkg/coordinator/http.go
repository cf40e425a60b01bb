package coordinator

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// NewHttpHandler installs the coordinator status endpoint.
func NewHttpHandler(coordinator Coordinator, r *echo.Echo) {
	r.GET("/api/v1/status", func(c echo.Context) error {
		stats := coordinator.Statistics()

		return c.JSON(http.StatusOK, map[string]any{
			"state":            stats.State,
			"connections":      stats.Connections,
			"failed_instances": stats.FailedInstances,
			"tasks": map[string]int64{
				"issued":    stats.IssuedTasks,
				"completed": stats.CompletedTasks,
				"failed":    stats.FailedTasks,
			},
			"learn_iterations": stats.LearnIterations,
			"episodes":         stats.Episodes,
			"env_steps":        stats.EnvSteps,
			"replay_entries":   stats.ReplayEntries,
			"policy_version":   stats.PolicyVersion,
		})
	})
}
