package scorer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/evaluation"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
)

type fakeTasks struct {
	task *model.Task
}

func (f *fakeTasks) GetTask(_ context.Context, id primitive.ObjectID) (*model.Task, error) {
	if f.task == nil || f.task.ID != id {
		return nil, apperr.New(apperr.TaskNotFound, "task %s not found", id.Hex())
	}
	return f.task, nil
}

type fakeInstances struct {
	instances []*lmeh.Instance
}

func (f *fakeInstances) Instances(context.Context, *model.Task) ([]*lmeh.Instance, error) {
	return f.instances, nil
}

type fakeStore struct {
	docs  map[string][]model.Doc
	where string
}

func (f *fakeStore) Checked(_ context.Context, name string) (bool, error) {
	return name == "qa_exact", nil
}

func (f *fakeStore) DatasetTable(context.Context, string) (string, error) {
	return "org/qa", nil
}

func (f *fakeStore) MinMaxIDsPerSplit(context.Context, string) (map[string]model.SplitRange, error) {
	return nil, nil
}

func (f *fakeStore) FetchRows(_ context.Context, _ string, where string) (map[string][]model.Doc, error) {
	f.where = where
	return f.docs, nil
}

type fakeResults struct {
	saved []*model.NumericalResult
}

func (f *fakeResults) SaveNumerical(_ context.Context, res *model.NumericalResult) error {
	f.saved = append(f.saved, res)
	return nil
}

func qaTask() lmeh.Task {
	return lmeh.NewTask(lmeh.TaskConfig{
		Task:        "qa_exact",
		DatasetPath: "org/qa",
		TestSplit:   "test",
		OutputType:  lmeh.OutputGenerateUntil,
		DocToText: func(doc model.Doc) string {
			return "Q: " + doc.String("q") + "\nA:"
		},
		DocToTargetText: func(doc model.Doc) string {
			return doc.String("a")
		},
		Metrics: []lmeh.MetricSpec{{
			Metric:         evaluation.NewExactMatchMetric(true, false),
			Aggregation:    evaluation.AggregationMean,
			HigherIsBetter: true,
		}},
	})
}

func genInstance(docID int, text string, code int, rt, height int64) *lmeh.Instance {
	return &lmeh.Instance{
		TaskName:     "qa_exact",
		DocID:        docID,
		RequestType:  model.RequestGenerateUntil,
		Arguments:    []string{"Q"},
		Repeats:      1,
		Resps:        []lmeh.Resp{{Text: text}},
		ErrorCode:    code,
		ResponseTime: rt,
		Height:       height,
	}
}

func newTestService(task *model.Task, instances []*lmeh.Instance) (*Service, *fakeStore, *fakeResults) {
	store := &fakeStore{docs: map[string][]model.Doc{
		"test": {
			{ID: 3, Split: "test", Fields: model.Row{"q": "1+1", "a": "2"}},
			{ID: 7, Split: "test", Fields: model.Row{"q": "2+2", "a": "4"}},
		},
	}}
	results := &fakeResults{}
	s := NewService(&fakeTasks{task: task}, &fakeInstances{instances: instances},
		lmeh.NewRegistry(qaTask()), store, store, results, zap.NewNop())
	return s, store, results
}

func doneTask() *model.Task {
	return &model.Task{
		ID:             primitive.NewObjectID(),
		Framework:      model.FrameworkLMEH,
		Tasks:          "qa_exact",
		DocIDs:         []int{3, 7},
		BootstrapIters: model.DefaultBootstrapIters,
		Done:           true,
	}
}

func TestEvaluate_TwoExactMatches(t *testing.T) {
	task := doneTask()
	s, store, results := newTestService(task, []*lmeh.Instance{
		genInstance(7, "4", 0, 300, 20),
		genInstance(3, "2", 0, 100, 21),
	})

	report, err := s.Evaluate(context.Background(), task.ID.Hex())
	require.NoError(t, err)

	assert.Equal(t, `"__id" IN (3, 7)`, store.where)
	mv := report.Metrics[MetricKey(evaluation.MetricExactMatch, lmeh.FilterNone)]
	assert.InDelta(t, 1.0, mv.Value, 1e-9)
	assert.InDelta(t, 0.0, mv.Stderr, 1e-9)
	assert.Equal(t, 2, report.Samples)

	require.Len(t, results.saved, 1)
	res := results.saved[0]
	assert.Equal(t, task.ID, res.ResultData.TaskID)
	assert.Equal(t, model.ResultStatusOK, res.ResultData.Status)
	assert.Equal(t, 2, res.ResultData.NumSamples)
	assert.Equal(t, int64(21), res.ResultData.ResultHeight)
	require.Len(t, res.Scores, 2)
	assert.Equal(t, 3, res.Scores[0].ID)
	assert.Equal(t, 1.0, res.Scores[0].Score)
	assert.Equal(t, 100.0, res.Scores[0].RunTime)
	assert.Equal(t, 7, res.Scores[1].ID)
	assert.False(t, res.Scores[0].Bypass)

	assert.Equal(t, "qa_exact", res.Task)
	assert.Equal(t, "1.0", res.Version)
	assert.Equal(t, 0, res.NumFewshot)
	persisted := res.Metrics[MetricKey(evaluation.MetricExactMatch, lmeh.FilterNone)]
	require.NotNil(t, persisted.Value)
	require.NotNil(t, persisted.Stderr)
	assert.InDelta(t, 1.0, *persisted.Value, 1e-9)
	assert.InDelta(t, 0.0, *persisted.Stderr, 1e-9)
	assert.Nil(t, res.Groups)
}

func TestEvaluate_FailedResponse(t *testing.T) {
	task := doneTask()
	s, _, results := newTestService(task, []*lmeh.Instance{
		genInstance(3, "2", 0, 100, 10),
		genInstance(7, "", 5, 0, 11),
	})

	report, err := s.Evaluate(context.Background(), task.ID.Hex())
	require.NoError(t, err)

	mv := report.Metrics[MetricKey(evaluation.MetricExactMatch, lmeh.FilterNone)]
	assert.Equal(t, 1.0, mv.Value)
	assert.True(t, mv.IsNA())

	res := results.saved[0]
	assert.Equal(t, 2, res.ResultData.NumSamples)
	assert.Equal(t, 5, res.Scores[1].StatusCode)
	assert.Equal(t, 0.0, res.Scores[1].Score)
	persisted := res.Metrics[MetricKey(evaluation.MetricExactMatch, lmeh.FilterNone)]
	require.NotNil(t, persisted.Value)
	assert.Nil(t, persisted.Stderr)
}

func TestScore_MetricLessTask(t *testing.T) {
	custom := lmeh.NewTask(lmeh.TaskConfig{
		Task:       "free_text",
		TestSplit:  "test",
		OutputType: lmeh.OutputGenerateUntil,
		DocToText: func(doc model.Doc) string {
			return doc.String("q")
		},
	})
	task := doneTask()
	task.Tasks = "free_text"
	inst := genInstance(3, "2", 0, 100, 5)
	inst.TaskName = "free_text"
	docs := map[int]model.Doc{3: {ID: 3, Split: "test", Fields: model.Row{"q": "1+1"}}}

	report, res, err := Score(custom, task, []*lmeh.Instance{inst}, docs)
	require.NoError(t, err)

	key := MetricKey(evaluation.MetricBypass, lmeh.FilterNone)
	require.Contains(t, report.Metrics, key)
	assert.True(t, math.IsNaN(report.Metrics[key].Value))
	assert.True(t, report.Metrics[key].IsNA())

	require.Len(t, res.Scores, 1)
	assert.True(t, res.Scores[0].Bypass)
	assert.Equal(t, 0, res.Scores[0].StatusCode)
	require.Contains(t, res.Metrics, key)
	assert.Nil(t, res.Metrics[key].Value)
	assert.Nil(t, res.Metrics[key].Stderr)
}

func TestEvaluate_NoInstances(t *testing.T) {
	task := doneTask()
	s, _, results := newTestService(task, nil)

	_, err := s.Evaluate(context.Background(), task.ID.Hex())
	require.NoError(t, err)
	require.Len(t, results.saved, 1)
	assert.Equal(t, model.ResultStatusNoData, results.saved[0].ResultData.Status)
	assert.Equal(t, 0, results.saved[0].ResultData.NumSamples)
}

func TestEvaluate_Errors(t *testing.T) {
	notDone := doneTask()
	notDone.Done = false
	unknown := doneTask()
	unknown.Tasks = "unregistered"
	signature := doneTask()
	signature.Framework = model.FrameworkSignatures

	tests := []struct {
		name        string
		task        *model.Task
		taskID      string
		kind        apperr.Kind
		savesFailed bool
	}{
		{"bad id", doneTask(), "not-an-id", apperr.BadParams, false},
		{"missing task", doneTask(), primitive.NewObjectID().Hex(), apperr.TaskNotFound, true},
		{"not done", notDone, notDone.ID.Hex(), apperr.ResponseError, false},
		{"unregistered", unknown, unknown.ID.Hex(), apperr.TaskNotFound, true},
		{"framework", signature, signature.ID.Hex(), apperr.BadParams, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, results := newTestService(tt.task, nil)
			_, err := s.Evaluate(context.Background(), tt.taskID)
			assert.True(t, apperr.Is(err, tt.kind), err)
			if !tt.savesFailed {
				assert.Empty(t, results.saved)
				return
			}
			require.Len(t, results.saved, 1)
			assert.Equal(t, model.ResultStatusFailed, results.saved[0].ResultData.Status)
			assert.Equal(t, int64(-1), results.saved[0].ResultData.ResultHeight)
		})
	}
}

func TestEvaluate_SkippedTask(t *testing.T) {
	task := doneTask()
	task.Status = model.TaskStatusSkipped
	s, _, results := newTestService(task, nil)

	report, err := s.Evaluate(context.Background(), task.ID.Hex())
	require.NoError(t, err)
	assert.Empty(t, report.Metrics)
	require.Len(t, results.saved, 1)
	assert.Equal(t, task.ID, results.saved[0].ResultData.TaskID)
	assert.Equal(t, model.ResultStatusFailed, results.saved[0].ResultData.Status)
	assert.Equal(t, 0, results.saved[0].ResultData.NumSamples)
}

func TestScore_GroupedTask(t *testing.T) {
	grouped := qaTask()
	grouped.Config().Group = "qa_group"
	task := doneTask()
	docs := map[int]model.Doc{
		3: {ID: 3, Split: "test", Fields: model.Row{"q": "1+1", "a": "2"}},
		7: {ID: 7, Split: "test", Fields: model.Row{"q": "2+2", "a": "4"}},
	}

	_, res, err := Score(grouped, task, []*lmeh.Instance{
		genInstance(3, "2", 0, 100, 1),
		genInstance(7, "4", 0, 100, 2),
	}, docs)
	require.NoError(t, err)

	assert.Equal(t, "qa_group", res.Group)
	require.Contains(t, res.Groups, "qa_group")
	group := res.Groups["qa_group"]
	assert.Equal(t, 2, group.Samples)
	mv := group.Metrics[MetricKey(evaluation.MetricExactMatch, lmeh.FilterNone)]
	require.NotNil(t, mv.Value)
	require.NotNil(t, mv.Stderr)
	assert.InDelta(t, 1.0, *mv.Value, 1e-9)
	assert.InDelta(t, 0.0, *mv.Stderr, 1e-9)
}

func TestPoolGroup(t *testing.T) {
	key := MetricKey(evaluation.MetricAcc, lmeh.FilterNone)
	tests := []struct {
		name     string
		children []*TaskReport
		samples  int
		value    float64
		na       bool
	}{
		{
			name: "weighted by samples",
			children: []*TaskReport{
				{Task: "mmlu_a", Samples: 10, NumFewshot: 5, Metrics: map[string]MetricValue{key: {Value: 0.2, Stderr: 0.1}}},
				{Task: "mmlu_b", Samples: 30, NumFewshot: 5, Metrics: map[string]MetricValue{key: {Value: 0.6, Stderr: 0.1}}},
			},
			samples: 40,
			value:   0.5,
		},
		{
			name: "N/A child",
			children: []*TaskReport{
				{Samples: 10, Metrics: map[string]MetricValue{key: {Value: 0.2, Stderr: evaluation.NA}}},
				{Samples: 10, Metrics: map[string]MetricValue{key: {Value: 0.4, Stderr: 0.1}}},
			},
			samples: 20,
			value:   0.3,
			na:      true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pooled := PoolGroup("mmlu", tt.children)
			assert.Equal(t, tt.samples, pooled.Samples)
			assert.InDelta(t, tt.value, pooled.Metrics[key].Value, 1e-9)
			assert.Equal(t, tt.na, pooled.Metrics[key].IsNA())
		})
	}
}

func TestPoolGroups(t *testing.T) {
	key := MetricKey(evaluation.MetricAcc, lmeh.FilterNone)
	groups := PoolGroups([]*TaskReport{
		{Task: "mmlu_a", Group: "mmlu", Samples: 10, Metrics: map[string]MetricValue{key: {Value: 0.2, Stderr: 0.1}}},
		{Task: "mmlu_b", Group: "mmlu", Samples: 30, Metrics: map[string]MetricValue{key: {Value: 0.6, Stderr: 0.1}}},
		{Task: "winogrande", Samples: 5, Metrics: map[string]MetricValue{key: {Value: 1, Stderr: 0}}},
	})
	require.Len(t, groups, 1)
	assert.Equal(t, 40, groups["mmlu"].Samples)
	assert.InDelta(t, 0.5, groups["mmlu"].Metrics[key].Value, 1e-9)
}
