package generator

import (
	"context"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/config"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
)

type fakeRegistry struct {
	tables map[string]string
}

func (f *fakeRegistry) Checked(_ context.Context, name string) (bool, error) {
	_, ok := f.tables[name]
	return ok, nil
}

func (f *fakeRegistry) DatasetTable(_ context.Context, name string) (string, error) {
	return f.tables[name], nil
}

type fakeDatasets struct {
	ranges map[string]model.SplitRange
	docs   map[string][]model.Doc
	where  string
}

func (f *fakeDatasets) MinMaxIDsPerSplit(context.Context, string) (map[string]model.SplitRange, error) {
	return f.ranges, nil
}

func (f *fakeDatasets) FetchRows(_ context.Context, _ string, where string) (map[string][]model.Doc, error) {
	f.where = where
	return f.docs, nil
}

type fakeWriter struct {
	tasks     []*model.Task
	instances []*model.Instance
	prompts   []*model.Prompt
}

func (f *fakeWriter) InsertTaskTree(_ context.Context, task *model.Task, instances []*model.Instance, prompts []*model.Prompt) error {
	f.tasks = append(f.tasks, task)
	f.instances = append(f.instances, instances...)
	f.prompts = append(f.prompts, prompts...)
	return nil
}

func arcDataset() *fakeDatasets {
	doc := func(id int, split string) model.Doc {
		return model.Doc{ID: id, Split: split, Fields: model.Row{
			"question":  "Q",
			"answerKey": "B",
			"choices": map[string]interface{}{
				"text":  []interface{}{"x", "y", "z"},
				"label": []interface{}{"A", "B", "C"},
			},
		}}
	}
	ds := &fakeDatasets{
		ranges: map[string]model.SplitRange{
			"test":       {Min: 0, Max: 1},
			"train":      {Min: 5, Max: 9},
			"validation": {Min: 10, Max: 11},
		},
		docs: map[string][]model.Doc{},
	}
	for split, r := range ds.ranges {
		for id := r.Min; id <= r.Max; id++ {
			ds.docs[split] = append(ds.docs[split], doc(id, split))
		}
	}
	return ds
}

func newTestService(t *testing.T, tables map[string]string, ds *fakeDatasets) (*Service, *fakeWriter) {
	h, err := NewTimeoutHandler(config.TimeoutConfig{})
	require.NoError(t, err)
	w := &fakeWriter{}
	s := NewService(lmeh.NewRegistry(), &fakeRegistry{tables: tables}, ds, w, h, zap.NewNop()).
		WithRand(func() *rand.Rand { return rand.New(rand.NewSource(3)) })
	return s, w
}

func TestSample_LMEH(t *testing.T) {
	ds := arcDataset()
	s, w := newTestService(t, map[string]string{"arc_challenge": "allenai/ai2_arc--ARC-Challenge"}, ds)

	qty := 2
	tasks, err := s.Sample(context.Background(), &model.TaskRequest{
		Framework:     model.FrameworkLMEH,
		Tasks:         "arc_challenge",
		RequesterArgs: model.RequesterArgs{Address: "supplier-1", Service: "A100"},
		Qty:           &qty,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	task := w.tasks[0]
	assert.Equal(t, "arc_challenge", task.Tasks)
	assert.Len(t, task.DocIDs, 2)
	assert.Equal(t, 2, task.Qty)
	assert.Equal(t, 25, *task.NumFewshot)
	assert.Equal(t, model.RequestLoglikelihood, task.RequestType)
	assert.Equal(t, 6, task.TotalInstances)
	assert.Contains(t, ds.where, `"__id" BETWEEN 10 AND 11`)

	require.Len(t, w.instances, 6)
	require.Len(t, w.prompts, 6)
	for i, inst := range w.instances {
		assert.Contains(t, task.DocIDs, inst.DocID)
		assert.Equal(t, task.ID, inst.TaskID)
		assert.Equal(t, inst.ID, w.prompts[i].InstanceID)
		assert.Equal(t, 60, w.prompts[i].Timeout)
		assert.Positive(t, w.prompts[i].CtxLen)

		var wire map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(w.prompts[i].Data), &wire))
		assert.Equal(t, true, wire["echo"])
		assert.Equal(t, DefaultModel, wire["model"])
	}
}

func TestSample_NumFewshot(t *testing.T) {
	zero, three := 0, 3
	tests := []struct {
		name       string
		numFewshot *int
		want       int
	}{
		{"leaderboard default", nil, 25},
		{"explicit zero", &zero, 0},
		{"explicit value", &three, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, w := newTestService(t, map[string]string{"arc_challenge": "allenai/ai2_arc--ARC-Challenge"}, arcDataset())

			qty := 1
			_, err := s.Sample(context.Background(), &model.TaskRequest{
				Framework:     model.FrameworkLMEH,
				Tasks:         "arc_challenge",
				RequesterArgs: model.RequesterArgs{Address: "supplier-1", Service: "A100"},
				Qty:           &qty,
				NumFewshot:    tt.numFewshot,
			})
			require.NoError(t, err)
			require.Len(t, w.tasks, 1)
			require.NotNil(t, w.tasks[0].NumFewshot)
			assert.Equal(t, tt.want, *w.tasks[0].NumFewshot)
		})
	}
}

func TestSample_DocOutsideTask(t *testing.T) {
	// 数据集返回了未被选中的文档
	s, w := newTestService(t, map[string]string{"arc_challenge": "allenai/ai2_arc--ARC-Challenge"}, arcDataset())
	qty := 1
	_, err := s.Sample(context.Background(), &model.TaskRequest{
		Framework: model.FrameworkLMEH,
		Tasks:     "arc_challenge",
		Qty:       &qty,
	})
	assert.True(t, apperr.Is(err, apperr.LmehGenerator), err)
	assert.Empty(t, w.tasks)
}

func TestSample_Errors(t *testing.T) {
	qty := 1
	tests := []struct {
		name string
		req  *model.TaskRequest
		kind apperr.Kind
	}{
		{"not registered", &model.TaskRequest{Framework: model.FrameworkLMEH, Tasks: "arc_challenge", Qty: &qty}, apperr.TaskNotFound},
		{"no match", &model.TaskRequest{Framework: model.FrameworkLMEH, Tasks: "nothing*", Qty: &qty}, apperr.BadParams},
		{"unknown framework", &model.TaskRequest{Framework: "helm", Tasks: "x", Qty: &qty}, apperr.BadParams},
		{"qty and doc ids", &model.TaskRequest{Framework: model.FrameworkLMEH, Tasks: "x", Qty: &qty, DocIDs: []int{1}}, apperr.BadParams},
		{"unsupported path", &model.TaskRequest{Framework: model.FrameworkLMEH, Tasks: "x", Qty: &qty,
			RequesterArgs: model.RequesterArgs{Path: "/v1/embeddings"}}, apperr.BadParams},
		{"unknown signature", &model.TaskRequest{Framework: model.FrameworkSignatures, Tasks: "weights", Qty: &qty}, apperr.BadParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, w := newTestService(t, nil, arcDataset())
			_, err := s.Sample(context.Background(), tt.req)
			assert.True(t, apperr.Is(err, tt.kind), err)
			assert.Empty(t, w.tasks)
		})
	}
}

func TestSample_Signatures(t *testing.T) {
	s, w := newTestService(t, nil, nil)
	qty := 1

	_, err := s.Sample(context.Background(), &model.TaskRequest{
		Framework:     model.FrameworkSignatures,
		Tasks:         model.SignatureTokenizer,
		RequesterArgs: model.RequesterArgs{Address: "supplier-1"},
		Qty:           &qty,
	})
	require.NoError(t, err)
	require.Len(t, w.prompts, 1)
	assert.Equal(t, "GET", w.tasks[0].RequesterArgs.Method)
	assert.Equal(t, TokenizerPath, w.tasks[0].RequesterArgs.Path)
	assert.Equal(t, "", w.prompts[0].Data)
	assert.Equal(t, 10, w.prompts[0].Timeout)
}

func TestIdentityTask(t *testing.T) {
	a, err := IdentityTask(model.RequesterArgs{Address: "s"})
	require.NoError(t, err)
	b, err := IdentityTask(model.RequesterArgs{Address: "s"})
	require.NoError(t, err)

	require.Len(t, a.Prompts, IdentitySignatureCount)
	assert.Equal(t, a.Prompts[0].Data, b.Prompts[0].Data)
	assert.Equal(t, IdentitySignatureCount, a.Task.TotalInstances)

	var req model.CompletionRequest
	require.NoError(t, json.Unmarshal([]byte(a.Prompts[1].Data), &req))
	assert.Equal(t, 100, req.MaxTokens)
	assert.Equal(t, 1, *req.Seed)
	assert.Equal(t, 0.0, req.Temperature)
}
