package leaderboard

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
	"github.com/ashwinyue/ml-testbench/internal/testutil"
)

func lmehBuffer(task string, samples uint32, mean, std float64) model.NumericalBuffer {
	b := testutil.NumericalBuffer(task, samples, mean, std)
	b.MeanTimes = 200
	b.ErrorRate = 0.1
	return b
}

// fullBuffers 所有排行榜任务都有缓冲区，mmlu 子任务统一为 0.5
func fullBuffers() []model.NumericalBuffer {
	buffers := []model.NumericalBuffer{
		lmehBuffer("arc_challenge", 100, 0.6, 0.5),
		lmehBuffer("hellaswag", 100, 0.8, 0.4),
		lmehBuffer("truthfulqa_mc2", 100, 0.4, 0.3),
		lmehBuffer("winogrande", 100, 0.7, 0.2),
		lmehBuffer("gsm8k", 0, 0, 0),
	}
	for _, subject := range lmeh.MMLUSubjects {
		buffers = append(buffers, lmehBuffer(lmeh.MMLUGroup+"_"+subject, 100, 0.5, 0.5))
	}
	return buffers
}

func TestPooledStats(t *testing.T) {
	small := lmehBuffer("mmlu_a", 10, 0.2, 0.4)
	large := lmehBuffer("mmlu_b", 30, 0.6, 0.4)
	empty := lmehBuffer("mmlu_c", 0, 0, 0)

	tests := []struct {
		name    string
		buffers []*model.NumericalBuffer
		mean    float64
		weight  float64
	}{
		{"weighted by samples", []*model.NumericalBuffer{&small, &large}, 0.5, 20},
		{"empty child ignored", []*model.NumericalBuffer{&small, &empty}, 0.2, 5},
		{"all empty", []*model.NumericalBuffer{&empty}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := pooledStats(tt.buffers)
			assert.InDelta(t, tt.mean, st.mean, 1e-9)
			assert.InDelta(t, tt.weight, st.weight, 1e-9)
		})
	}
}

func TestBuildEntry(t *testing.T) {
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sup := &model.Supplier{Address: "pokt1abc", Service: "A100", LastSeenHeight: 42, LastSeenTime: seen}

	entry, err := BuildEntry(sup, fullBuffers())
	require.NoError(t, err)

	assert.Equal(t, Metadata{Service: "A100", LastSeenHeight: 42, LastSeenTime: "2026-03-01T12:00:00Z"}, entry.Metadata)
	assert.InDelta(t, 0.6, entry.Metrics["arc"].Mean, 1e-9)
	assert.InDelta(t, 0.05, entry.Metrics["arc"].Stderr, 1e-9)
	assert.Equal(t, Metric{}, entry.Metrics["gsm8k"])

	mmlu := entry.Metrics["mmlu"]
	assert.InDelta(t, 0.5, mmlu.Mean, 1e-9)
	assert.InDelta(t, 0.05/math.Sqrt(float64(len(lmeh.MMLUSubjects))), mmlu.Stderr, 1e-9)

	// 五个有样本的任务各权重 100
	avg := entry.Metrics[lmeh.MetricAverage]
	assert.InDelta(t, (0.6+0.8+0.4+0.7+0.5)/5, avg.Mean, 1e-9)

	assert.InDelta(t, 0.1, entry.QoS.ErrorRate, 1e-9)
	assert.InDelta(t, 200, entry.QoS.ResponseTime, 1e-9)
}

func TestBuildEntry_MissingTask(t *testing.T) {
	_, err := BuildEntry(&model.Supplier{}, fullBuffers()[1:])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arc_challenge")
}

type fakeSuppliers struct {
	list []model.Supplier
	err  error
}

func (f *fakeSuppliers) List(context.Context) ([]model.Supplier, error) {
	return f.list, f.err
}

type fakeBuffers struct {
	bySupplier map[primitive.ObjectID][]model.NumericalBuffer
}

func (f *fakeBuffers) SupplierNumericalBuffers(_ context.Context, id primitive.ObjectID) ([]model.NumericalBuffer, error) {
	buffers, ok := f.bySupplier[id]
	if !ok {
		return nil, errors.New("mongodb unavailable")
	}
	return buffers, nil
}

func TestService_Get(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	good := model.Supplier{ID: primitive.NewObjectID(), Address: "good"}
	partial := model.Supplier{ID: primitive.NewObjectID(), Address: "partial"}
	broken := model.Supplier{ID: primitive.NewObjectID(), Address: "broken"}

	buffers := &fakeBuffers{bySupplier: map[primitive.ObjectID][]model.NumericalBuffer{
		good.ID:    fullBuffers(),
		partial.ID: fullBuffers()[:2],
	}}
	s := NewService(&fakeSuppliers{list: []model.Supplier{good, partial, broken}}, buffers, nil, time.Minute, zap.NewNop())

	board, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, board, 1)
	assert.Contains(t, board, "good")
}

func TestService_GetEmpty(t *testing.T) {
	tests := []struct {
		name      string
		suppliers *fakeSuppliers
		wantErr   error
	}{
		{"no suppliers", &fakeSuppliers{}, ErrEmpty},
		{"all failing", &fakeSuppliers{list: []model.Supplier{{ID: primitive.NewObjectID()}}}, ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(tt.suppliers, &fakeBuffers{}, nil, time.Minute, zap.NewNop())
			_, err := s.Get(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
