package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/config"
	"github.com/ashwinyue/ml-testbench/internal/workflows"
)

type fakeScheduleClient struct {
	client.ScheduleClient
	created []client.ScheduleOptions
	err     error
}

func (f *fakeScheduleClient) Create(_ context.Context, opts client.ScheduleOptions) (client.ScheduleHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, opts)
	return nil, nil
}

func TestEnsureSchedule(t *testing.T) {
	sc := &fakeScheduleClient{}
	s := Schedule{ID: LookupTasksScheduleID, Every: "2m", Workflow: workflows.LookupTasksName, TaskQueue: "evaluator"}

	require.NoError(t, EnsureSchedule(context.Background(), sc, s, zap.NewNop()))
	require.Len(t, sc.created, 1)

	opts := sc.created[0]
	assert.Equal(t, LookupTasksScheduleID, opts.ID)
	assert.Equal(t, enumspb.SCHEDULE_OVERLAP_POLICY_SKIP, opts.Overlap)
	assert.Equal(t, []client.ScheduleIntervalSpec{{Every: 2 * time.Minute}}, opts.Spec.Intervals)

	action, ok := opts.Action.(*client.ScheduleWorkflowAction)
	require.True(t, ok)
	assert.Equal(t, workflows.LookupTasksName, action.Workflow)
	assert.Equal(t, "evaluator", action.TaskQueue)
}

func TestEnsureSchedule_Cases(t *testing.T) {
	tests := []struct {
		name      string
		every     string
		createErr error
		wantErr   bool
		created   int
	}{
		{name: "disabled", every: ""},
		{name: "already exists", every: "1m", createErr: temporal.ErrScheduleAlreadyRunning},
		{name: "bad interval", every: "soon", wantErr: true},
		{name: "negative interval", every: "-1m", wantErr: true},
		{name: "server error", every: "1m", createErr: assert.AnError, wantErr: true},
		{name: "created", every: "30s", created: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := &fakeScheduleClient{err: tt.createErr}
			err := EnsureSchedule(context.Background(), sc,
				Schedule{ID: SummaryLookupScheduleID, Every: tt.every, Workflow: workflows.SummaryLookupName}, zap.NewNop())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, sc.created, tt.created)
		})
	}
}

func TestWorkerOptions(t *testing.T) {
	opts := WorkerOptions(config.TemporalConfig{
		MaxWorkers:                     4,
		MaxConcurrentActivities:        8,
		MaxConcurrentWorkflowTasks:     1,
		MaxConcurrentWorkflowTaskPolls: 2,
		MaxConcurrentActivityTaskPolls: 3,
	})

	assert.Equal(t, 8, opts.MaxConcurrentActivityExecutionSize)
	assert.Equal(t, 2, opts.MaxConcurrentWorkflowTaskExecutionSize)
	assert.Equal(t, 2, opts.MaxConcurrentWorkflowTaskPollers)
	assert.Equal(t, 3, opts.MaxConcurrentActivityTaskPollers)
	assert.Equal(t, 4, opts.MaxConcurrentLocalActivityExecutionSize)
}

func TestNew(t *testing.T) {
	t.Run("without config path", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", "")
		a, err := New(RoleEvaluator)
		require.NoError(t, err)
		assert.Equal(t, RoleEvaluator, a.Config.Temporal.TaskQueue)
		assert.Equal(t, "pocket-ml-testbench", a.Config.Temporal.Namespace)
	})

	t.Run("with config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"log_level": "DEBUG",
			"temporal": {"task_queue": "evaluate", "max_child_starts": 8}
		}`), 0o600))
		t.Setenv("CONFIG_PATH", path)

		a, err := New(RoleEvaluator)
		require.NoError(t, err)
		assert.Equal(t, "evaluate", a.Config.Temporal.TaskQueue)
		assert.Equal(t, 8, a.Config.Temporal.MaxChildStarts)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.json"))
		_, err := New(RoleSampler)
		assert.Error(t, err)
	})
}
