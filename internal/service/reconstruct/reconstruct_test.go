package reconstruct

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/mongodb"
)

func f(v float64) *float64 { return &v }

func TestLoglikelihood(t *testing.T) {
	// "Q: A:" + " yes"，上下文 5 个字符
	lp := &model.CompletionLogprobs{
		TextOffset:    []int{0, 2, 5},
		Tokens:        []string{"Q:", " A:", " yes"},
		TokenLogprobs: []*float64{nil, f(-1), f(-0.5)},
		TopLogprobs:   []map[string]float64{nil, {" A:": -1}, {" yes": -0.5, " no": -1.2}},
	}

	tests := []struct {
		name       string
		lp         *model.CompletionLogprobs
		contextLen int
		ctxlen     int
		wantLL     float64
		wantGreedy bool
	}{
		{"by text offset", lp, 5, 0, -0.5, true},
		{"by token index", &model.CompletionLogprobs{TokenLogprobs: lp.TokenLogprobs}, 5, 1, -1.5, true},
		{"not greedy", &model.CompletionLogprobs{
			TextOffset:    []int{0, 5},
			Tokens:        []string{"Q: A:", " no"},
			TokenLogprobs: []*float64{nil, f(-2)},
			TopLogprobs:   []map[string]float64{nil, {" yes": -0.1, " no": -2}},
		}, 5, 0, -2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ll, greedy, err := Loglikelihood(tt.lp, tt.contextLen, tt.ctxlen)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantLL, ll, 1e-9)
			assert.Equal(t, tt.wantGreedy, greedy)
		})
	}

	_, _, err := Loglikelihood(nil, 0, 0)
	assert.ErrorIs(t, err, ErrNoLogprobs)
}

type fakeReader struct {
	rows []mongodb.ResponseTreeRow
}

func (r *fakeReader) ResponseTree(_ context.Context, taskID primitive.ObjectID) ([]mongodb.ResponseTreeRow, error) {
	if len(r.rows) == 0 {
		return nil, apperr.New(apperr.TaskNotFound, "task %s has no responses", taskID.Hex())
	}
	return r.rows, nil
}

func row(docID, idx int, reqType string, args []string, resp model.Response) mongodb.ResponseTreeRow {
	return mongodb.ResponseTreeRow{
		Instance: model.Instance{
			DocID: docID, Idx: idx, RequestType: reqType, Arguments: args, Repeats: 3,
			Metadata: model.InstanceMetadata{TaskName: "t", DocID: docID, Repeats: 3},
		},
		Prompt:   model.Prompt{CtxLen: 1},
		Response: resp,
	}
}

func TestService_Instances(t *testing.T) {
	llBody := `{"choices":[{"text":"Q: A: yes","logprobs":{"text_offset":[0,5],"tokens":["Q: A:"," yes"],"token_logprobs":[null,-0.25],"top_logprobs":[null,{" yes":-0.25}]}}]}`
	reader := &fakeReader{rows: []mongodb.ResponseTreeRow{
		row(0, 0, model.RequestLoglikelihood, []string{"Q: A:", " yes"},
			model.Response{Ok: true, Response: llBody, ResponseTime: 120, Height: 10}),
		row(0, 1, model.RequestLoglikelihood, []string{"Q: A:", " no"},
			model.Response{Ok: false, ErrorCode: 5, Height: 11}),
		row(1, 0, model.RequestGenerateUntil, []string{"Q:"},
			model.Response{Ok: true, Response: `{"choices":[{"text":" 42"}]}`, Height: 12}),
		row(2, 0, model.RequestGenerateUntil, []string{"Q:"},
			model.Response{Ok: true, Response: `{oops`, Height: 12}),
	}}
	s := NewService(reader, zap.NewNop())
	task := &model.Task{ID: primitive.NewObjectID(), RequesterArgs: model.RequesterArgs{Path: model.CompletionPath}}

	instances, err := s.Instances(context.Background(), task)
	require.NoError(t, err)
	require.Len(t, instances, 4)

	assert.Equal(t, 1, instances[0].Repeats)
	assert.Equal(t, "t", instances[0].TaskName)
	assert.InDelta(t, -0.25, instances[0].Resps[0].LogLikelihood, 1e-9)
	assert.True(t, instances[0].Resps[0].IsGreedy)
	assert.Equal(t, int64(120), instances[0].ResponseTime)

	assert.Equal(t, 5, instances[1].ErrorCode)
	assert.Equal(t, " 42", instances[2].Resps[0].Text)
	assert.Equal(t, model.SampleStatusDecode, instances[3].ErrorCode)

	_, err = NewService(&fakeReader{}, zap.NewNop()).Instances(context.Background(), task)
	assert.True(t, apperr.Is(err, apperr.TaskNotFound))
}
