package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestCircularBuffer_InsertAndWrap(t *testing.T) {
	now := time.Now().UTC()
	buf := NewSignatureBuffer(primitive.NewObjectID(), FrameworkSignatures, SignatureIdentity, now)

	for i := 0; i < int(SignatureBufferLength); i++ {
		require.NoError(t, buf.InsertSample(now, BufferSignature{Signature: "s", ID: i}))
		assert.Equal(t, uint32(i+1), buf.CircBuffer.NumSamples)
	}
	assert.Equal(t, uint32(0), buf.CircBuffer.Indexes.Start)
	assert.Equal(t, SignatureBufferLength-1, buf.CircBuffer.Indexes.End)

	// 写满后继续写入会覆盖最旧的样本
	require.NoError(t, buf.InsertSample(now, BufferSignature{Signature: "new", ID: 99}))
	assert.Equal(t, SignatureBufferLength, buf.CircBuffer.NumSamples)
	assert.Equal(t, uint32(1), buf.CircBuffer.Indexes.Start)
	assert.Equal(t, uint32(0), buf.CircBuffer.Indexes.End)
	assert.Equal(t, 99, buf.Signatures[0].ID)
}

func TestCircularBuffer_IgnoredStatus(t *testing.T) {
	now := time.Now().UTC()
	buf := NewNumericalBuffer(primitive.NewObjectID(), FrameworkLMEH, "gsm8k", now)

	require.NoError(t, buf.InsertSample(now, BufferScore{Score: 1, StatusCode: RelayCodeRelay}))
	assert.Equal(t, uint32(0), buf.NumSamples())

	require.NoError(t, buf.InsertSample(now, BufferScore{Score: 1, StatusCode: RelayCodeOK}))
	assert.Equal(t, uint32(1), buf.NumSamples())
}

func TestCircularBuffer_StepIndex(t *testing.T) {
	buf := NewCircularBuffer(3)

	err := buf.StepIndex(2, MarkerEnd, true)
	assert.Error(t, err)

	err = buf.StepIndex(1, "middle", true)
	assert.Error(t, err)

	// 空缓冲区的 start 不可移动
	require.NoError(t, buf.StepIndex(1, MarkerStart, true))
	assert.Equal(t, uint32(0), buf.Indexes.Start)
}

func TestCircularBuffer_BufferLimitCheck(t *testing.T) {
	buf := NewCircularBuffer(4)
	tests := []struct {
		in   uint32
		want uint32
	}{
		{in: 0, want: 0},
		{in: 3, want: 3},
		{in: 4, want: 0},
		{in: ^uint32(0), want: 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, buf.BufferLimitCheck(tt.in))
	}
}

func TestCircularBuffer_CycleIndexes(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-10 * 24 * time.Hour)
	buf := NewNumericalBuffer(primitive.NewObjectID(), FrameworkLMEH, "hellaswag", now)

	require.NoError(t, buf.InsertSample(old, BufferScore{Score: 0.1}))
	require.NoError(t, buf.InsertSample(old, BufferScore{Score: 0.2}))
	require.NoError(t, buf.InsertSample(now, BufferScore{Score: 0.9}))
	require.Equal(t, uint32(3), buf.NumSamples())

	require.NoError(t, buf.CircBuffer.CycleIndexes(NumericalSampleTTLDays, now))
	assert.Equal(t, uint32(1), buf.NumSamples())
	assert.Equal(t, []uint32{2}, buf.CircBuffer.GetBufferValidIndexes())

	// 所有样本过期后缓冲区收缩为空
	require.NoError(t, buf.CircBuffer.CycleIndexes(NumericalSampleTTLDays, now.Add(30*24*time.Hour)))
	assert.Equal(t, uint32(0), buf.NumSamples())
	assert.Empty(t, buf.CircBuffer.GetBufferValidIndexes())
}

func TestNumericalBuffer_Refresh(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-10 * 24 * time.Hour)
	buf := NewNumericalBuffer(primitive.NewObjectID(), FrameworkLMEH, "winogrande", now)
	for _, s := range []struct {
		at    time.Time
		score float64
	}{{old, 0.1}, {old, 0.2}, {now, 0.9}} {
		require.NoError(t, buf.InsertSample(s.at, BufferScore{Score: s.score}))
	}
	buf.ProcessData()
	require.InDelta(t, 0.4, buf.MeanScores, 1e-9)

	changed, err := buf.Refresh(now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint32(1), buf.NumSamples())
	assert.InDelta(t, 0.9, buf.MeanScores, 1e-9)

	changed, err = buf.Refresh(now)
	require.NoError(t, err)
	assert.False(t, changed)

	// 只有统计量、没有时间控制块
	bare := &NumericalBuffer{MeanScores: 0.5, CircBuffer: CircularBuffer{NumSamples: 10}}
	changed, err = bare.Refresh(now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.InDelta(t, 0.5, bare.MeanScores, 1e-9)
}

func TestNumericalBuffer_ProcessData(t *testing.T) {
	now := time.Now().UTC()
	buf := NewNumericalBuffer(primitive.NewObjectID(), FrameworkLMEH, "arc_challenge", now)

	samples := []BufferScore{
		{Score: 1, RunTime: 100, StatusCode: RelayCodeOK},
		{Score: 0, RunTime: 200, StatusCode: RelayCodeOK},
		{Score: 1, RunTime: 300, StatusCode: RelayCodeOK},
		{Score: 0, RunTime: 0, StatusCode: RelayCodeSupplier},
	}
	for _, s := range samples {
		require.NoError(t, buf.InsertSample(now, s))
	}
	buf.ProcessData()

	assert.InDelta(t, 2.0/3.0, buf.MeanScores, 1e-9)
	assert.InDelta(t, 1.0, buf.MedianScores, 1e-9)
	assert.InDelta(t, 200.0, buf.MeanTimes, 1e-9)
	assert.InDelta(t, 200.0, buf.MedianTimes, 1e-9)
	assert.InDelta(t, 100.0, buf.StdTimes, 1e-9)
	assert.InDelta(t, 0.25, buf.ErrorRate, 1e-9)
	assert.Equal(t, map[string]int{"2": 1}, buf.ErrorCodes)
	assert.True(t, buf.IsOK())
}

func TestNumericalBuffer_ProcessDataSingleSample(t *testing.T) {
	now := time.Now().UTC()
	buf := NewNumericalBuffer(primitive.NewObjectID(), FrameworkLMEH, "arc_challenge", now)
	require.NoError(t, buf.InsertSample(now, BufferScore{Score: 0.5, RunTime: 10}))

	buf.ProcessData()
	assert.Equal(t, 0.5, buf.MeanScores)
	assert.Equal(t, 0.5, buf.MedianScores)
	assert.Equal(t, 0.0, buf.StdScores)
	assert.Equal(t, 0.0, buf.ErrorRate)
}

func TestSignatureBuffer_ProcessData(t *testing.T) {
	now := time.Now().UTC()
	buf := NewSignatureBuffer(primitive.NewObjectID(), FrameworkSignatures, SignatureTokenizer, now)

	require.NoError(t, buf.InsertSample(now, BufferSignature{Signature: "abc", StatusCode: RelayCodeOK}))
	buf.ProcessData()
	assert.Equal(t, "abc", buf.LastSignature)
	assert.True(t, buf.IsOK())

	require.NoError(t, buf.InsertSample(now, BufferSignature{StatusCode: RelayCodeEvaluation}))
	buf.ProcessData()
	assert.Equal(t, "", buf.LastSignature)
	assert.Equal(t, RelayCodeEvaluation, buf.ErrorCode)
	assert.False(t, buf.IsOK())
	assert.Equal(t, []string{"abc"}, buf.ValidSignatures())
}
