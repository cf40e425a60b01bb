package operator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

func testOperatorConfig() *Config {
	return &Config{
		RunId: "run-1",
		Instances: []InstanceConfig{
			{Role: protocol.RoleLearner, Instance: "learner-0", Endpoint: "tcp://learner-0:9090"},
			{Role: protocol.RoleCollector, Instance: "collector-0", Endpoint: "tcp://collector-0:9090"},
		},
	}
}

func TestOperatorRoster(t *testing.T) {
	operator := NewOperator(testOperatorConfig())

	roster, err := operator.Roster("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", roster.RunId)
	assert.Len(t, roster.Instances, 2)
	assert.Equal(t, 1, roster.CountByRole(protocol.RoleLearner))
	assert.Equal(t, 1, roster.CountByRole(protocol.RoleCollector))

	_, err = operator.Roster("run-2")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestOperatorRegisterService(t *testing.T) {
	service := NewOperatorService(NewOperator(testOperatorConfig()))

	roster, err := service.Register(context.Background(), &protocol.RegisterRequest{RunId: "run-1"})
	require.NoError(t, err)
	assert.Len(t, roster.Instances, 2)

	_, err = service.Register(context.Background(), &protocol.RegisterRequest{RunId: "unknown"})
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	config := testOperatorConfig()
	require.NoError(t, config.Validate())

	config.Instances = append(config.Instances, InstanceConfig{
		Role:     protocol.RoleLearner,
		Instance: "learner-0",
	})
	assert.Error(t, config.Validate())

	config = testOperatorConfig()
	config.RunId = ""
	assert.Error(t, config.Validate())

	config = testOperatorConfig()
	config.Instances[0].Role = "janitor"
	assert.Error(t, config.Validate())
}

func TestSuperviseRunsCommands(t *testing.T) {
	config := &Config{
		RunId: "run-1",
		Instances: []InstanceConfig{
			{Role: protocol.RoleCollector, Instance: "collector-0", Command: []string{"true"}},
		},
	}

	operator := NewOperator(config)
	require.NoError(t, operator.Supervise(context.Background()))
}

func TestSuperviseCancellation(t *testing.T) {
	config := &Config{
		RunId: "run-1",
		Instances: []InstanceConfig{
			{Role: protocol.RoleCollector, Instance: "collector-0", Command: []string{"sleep", "60"}, Restart: true},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	operator := NewOperator(config)

	done := make(chan error, 1)
	go func() { done <- operator.Supervise(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}
