package model

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gonum.org/v1/gonum/stat"
)

// EpochStart 标记缓冲区中从未写入的位置
var EpochStart = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// 缓冲区游标
const (
	MarkerStart = "start"
	MarkerEnd   = "end"
)

// 数值缓冲区参数
const (
	NumericalSampleTTLDays     uint32 = 5
	NumericalMinSamplesPerTask uint32 = 50
	NumericalBufferLength             = NumericalMinSamplesPerTask
)

// 签名缓冲区参数
const (
	SignatureSampleTTLDays     uint32 = 5
	SignatureMinSamplesPerTask uint32 = 5
	SignatureBufferLength             = SignatureMinSamplesPerTask
)

// relay 响应码，只有 OK、Supplier、Evaluation 会进入缓冲区
const (
	RelayCodeOK         = 0
	RelayCodeRelay      = 1
	RelayCodeSupplier   = 2
	RelayCodeEvaluation = 11
)

// CircularIndexes 环形缓冲区首尾下标
type CircularIndexes struct {
	Start uint32 `json:"cir_start" bson:"cir_start"`
	End   uint32 `json:"cir_end" bson:"cir_end"`
}

// CircularBuffer 环形缓冲区的控制块，样本本身保存在外层记录中
type CircularBuffer struct {
	CircBufferLen uint32          `json:"buffer_len" bson:"buffer_len"`
	NumSamples    uint32          `json:"num_samples" bson:"num_samples"`
	Times         []time.Time     `json:"times" bson:"times"`
	Indexes       CircularIndexes `json:"indexes" bson:"indexes"`
}

// NewCircularBuffer 创建长度为 length 的空缓冲区
func NewCircularBuffer(length uint32) CircularBuffer {
	times := make([]time.Time, length)
	for i := range times {
		times[i] = EpochStart
	}
	return CircularBuffer{CircBufferLen: length, Times: times}
}

// StepIndex 将 start 或 end 游标沿 positive 方向移动 step（只支持 0 或 1）
func (b *CircularBuffer) StepIndex(step uint32, marker string, positive bool) error {
	if step > 1 {
		return fmt.Errorf("steps of length larger than 1 are not supported")
	}

	var curr uint32
	switch marker {
	case MarkerStart:
		if !positive || b.NumSamples == 0 {
			return nil
		}
		curr = b.Indexes.Start
	case MarkerEnd:
		if b.NumSamples == 0 && !positive {
			return nil
		}
		curr = b.Indexes.End
	default:
		return fmt.Errorf("invalid buffer marker %q", marker)
	}

	next := curr - step
	if positive {
		next = curr + step
	}
	next = b.BufferLimitCheck(next)

	if marker == MarkerStart {
		if b.NumSamples == step && positive {
			// 已无法再收缩，只让最后一个样本失效
			b.Times[b.Indexes.End] = EpochStart
		} else {
			b.Indexes.Start = next
		}
	} else {
		switch {
		case b.Indexes.Start == next && positive:
			// end 追上了 start，start 先前进一格
			if err := b.StepIndex(1, MarkerStart, true); err != nil {
				return err
			}
			b.Indexes.End = next
		case b.NumSamples == step && !positive:
			b.Times[b.Indexes.Start] = EpochStart
		default:
			b.Indexes.End = next
		}
	}

	b.countSamples()
	return nil
}

func (b *CircularBuffer) countSamples() {
	start, end := b.Indexes.Start, b.Indexes.End
	switch {
	case start == end:
		if b.Times[start] != EpochStart {
			b.NumSamples = 1
		} else {
			b.NumSamples = 0
		}
	case start < end:
		b.NumSamples = end - start
		if b.Times[start] != EpochStart {
			b.NumSamples++
		}
	default:
		b.NumSamples = b.CircBufferLen - (start - end) + 1
	}
}

// nextSlot 返回下一个写入位置并记录时间；空缓冲区直接写在 end 上
func (b *CircularBuffer) nextSlot(at time.Time) (uint32, error) {
	if b.NumSamples > 0 || b.Times[b.Indexes.End] != EpochStart {
		if err := b.StepIndex(1, MarkerEnd, true); err != nil {
			return 0, err
		}
	}
	b.Times[b.Indexes.End] = at
	b.countSamples()
	return b.Indexes.End, nil
}

// CycleIndexes 丢弃早于 ttlDays 的样本，缓冲区收缩为一个位置时停止
func (b *CircularBuffer) CycleIndexes(ttlDays uint32, now time.Time) error {
	maxAge := time.Duration(ttlDays) * 24 * time.Hour
	for now.Sub(b.Times[b.Indexes.Start]) >= maxAge {
		if err := b.StepIndex(1, MarkerStart, true); err != nil {
			return err
		}
		if b.Indexes.Start == b.Indexes.End {
			break
		}
	}
	return nil
}

// BufferLimitCheck 处理下标的上溢和下溢
func (b *CircularBuffer) BufferLimitCheck(next uint32) uint32 {
	if next == math.MaxUint32 {
		return b.CircBufferLen - 1
	}
	if next >= b.CircBufferLen {
		return 0
	}
	return next
}

// GetBufferValidIndexes 从 start 走到 end，跳过未写入的位置
func (b *CircularBuffer) GetBufferValidIndexes() []uint32 {
	var idxs []uint32
	idx := b.Indexes.Start
	for {
		if b.Times[idx] != EpochStart {
			idxs = append(idxs, idx)
		}
		if idx == b.Indexes.End {
			break
		}
		idx = b.BufferLimitCheck(idx + 1)
	}
	return idxs
}

// BufferTaskData 缓冲区所属的 (supplier, framework, task)
type BufferTaskData struct {
	SupplierID primitive.ObjectID `json:"supplier_id" bson:"supplier_id"`
	Framework  string             `json:"framework" bson:"framework"`
	Task       string             `json:"task" bson:"task"`
	LastSeen   time.Time          `json:"last_seen" bson:"last_seen"`
	LastHeight int64              `json:"last_height" bson:"last_height"`
}

// BufferScore 数值缓冲区中的一个样本
type BufferScore struct {
	Score      float64 `json:"score" bson:"score"`
	ID         int     `json:"id" bson:"id"`
	RunTime    float64 `json:"run_time" bson:"run_time"`
	StatusCode int     `json:"status_code" bson:"status_code"`
}

// NumericalBuffer 某供应方在某任务上最近的数值样本与统计量
type NumericalBuffer struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TaskData     BufferTaskData     `json:"task_data" bson:"task_data"`
	MeanScores   float64            `json:"mean_scores" bson:"mean_scores"`
	MedianScores float64            `json:"median_scores" bson:"median_scores"`
	StdScores    float64            `json:"std_scores" bson:"std_scores"`
	MeanTimes    float64            `json:"mean_times" bson:"mean_times"`
	MedianTimes  float64            `json:"median_times" bson:"median_times"`
	StdTimes     float64            `json:"std_times" bson:"std_times"`
	ErrorRate    float64            `json:"error_rate" bson:"error_rate"`
	ErrorCodes   map[string]int     `json:"error_codes" bson:"error_codes"`
	Scores       []BufferScore      `json:"scores" bson:"scores"`
	CircBuffer   CircularBuffer     `json:"circ_buffer_control" bson:"circ_buffer_control"`
}

// NewNumericalBuffer 创建空的数值缓冲区
func NewNumericalBuffer(supplierID primitive.ObjectID, framework, task string, now time.Time) *NumericalBuffer {
	return &NumericalBuffer{
		TaskData: BufferTaskData{
			SupplierID: supplierID,
			Framework:  framework,
			Task:       task,
			LastSeen:   now,
		},
		ErrorCodes: map[string]int{},
		Scores:     make([]BufferScore, NumericalBufferLength),
		CircBuffer: NewCircularBuffer(NumericalBufferLength),
	}
}

// NumSamples 缓冲区中的有效样本数
func (n *NumericalBuffer) NumSamples() uint32 {
	return n.CircBuffer.NumSamples
}

// InsertSample 写入一个样本；只保留 OK 和可归责于供应方的错误，其余忽略
func (n *NumericalBuffer) InsertSample(at time.Time, s BufferScore) error {
	if !bufferedStatus(s.StatusCode) {
		return nil
	}
	end, err := n.CircBuffer.nextSlot(at)
	if err != nil {
		return err
	}
	n.Scores[end] = s
	return nil
}

// Refresh 丢弃超过 TTL 的样本，有样本被丢弃时重新计算统计量。
// 没有时间控制块的缓冲区原样返回
func (n *NumericalBuffer) Refresh(now time.Time) (bool, error) {
	if len(n.CircBuffer.Times) == 0 {
		return false, nil
	}
	before, beforeN := n.CircBuffer.Indexes, n.CircBuffer.NumSamples
	if err := n.CircBuffer.CycleIndexes(NumericalSampleTTLDays, now); err != nil {
		return false, err
	}
	if n.CircBuffer.Indexes == before && n.CircBuffer.NumSamples == beforeN {
		return false, nil
	}
	n.ProcessData()
	return true, nil
}

// ProcessData 重新计算均值、中位数、标准差和错误率
func (n *NumericalBuffer) ProcessData() {
	var scores, times []float64
	punishable := 0
	codes := map[string]int{}
	for _, idx := range n.CircBuffer.GetBufferValidIndexes() {
		s := n.Scores[idx]
		switch s.StatusCode {
		case RelayCodeOK:
			scores = append(scores, s.Score)
			times = append(times, s.RunTime)
		case RelayCodeSupplier, RelayCodeEvaluation:
			punishable++
			codes[fmt.Sprintf("%d", s.StatusCode)]++
		}
	}

	n.ErrorCodes = codes
	if total := len(scores) + punishable; total > 0 {
		n.ErrorRate = float64(punishable) / float64(total)
	} else {
		n.ErrorRate = 0
	}

	n.MeanScores, n.MedianScores, n.StdScores = describe(scores)
	n.MeanTimes, n.MedianTimes, n.StdTimes = describe(times)
}

// IsOK 是否已有有效统计量
func (n *NumericalBuffer) IsOK() bool {
	return n.MeanScores+n.MedianScores+n.StdScores != 0
}

// describe 返回 mean、median、std；单个样本 std 为 0
func describe(xs []float64) (mean, median, std float64) {
	switch len(xs) {
	case 0:
		return 0, 0, 0
	case 1:
		return xs[0], xs[0], 0
	}
	mean = stat.Mean(xs, nil)
	std = stat.StdDev(xs, nil)
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	l := len(sorted)
	if l%2 == 0 {
		median = (sorted[l/2-1] + sorted[l/2]) / 2
	} else {
		median = sorted[l/2]
	}
	return mean, median, std
}

// BufferSignature 签名缓冲区中的一个样本
type BufferSignature struct {
	Signature  string `json:"signature" bson:"signature"`
	ID         int    `json:"id" bson:"id"`
	StatusCode int    `json:"status_code" bson:"status_code"`
}

// SignatureBuffer 某供应方在某签名任务上最近的签名
type SignatureBuffer struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TaskData      BufferTaskData     `json:"task_data" bson:"task_data"`
	LastSignature string             `json:"last_signature" bson:"last_signature"`
	ErrorCode     int                `json:"error_code" bson:"error_code"`
	Signatures    []BufferSignature  `json:"signatures" bson:"signatures"`
	CircBuffer    CircularBuffer     `json:"circ_buffer_control" bson:"circ_buffer_control"`
}

// NewSignatureBuffer 创建空的签名缓冲区
func NewSignatureBuffer(supplierID primitive.ObjectID, framework, task string, now time.Time) *SignatureBuffer {
	return &SignatureBuffer{
		TaskData: BufferTaskData{
			SupplierID: supplierID,
			Framework:  framework,
			Task:       task,
			LastSeen:   now,
		},
		Signatures: make([]BufferSignature, SignatureBufferLength),
		CircBuffer: NewCircularBuffer(SignatureBufferLength),
	}
}

// InsertSample 写入一个签名样本
func (s *SignatureBuffer) InsertSample(at time.Time, sample BufferSignature) error {
	if !bufferedStatus(sample.StatusCode) {
		return nil
	}
	end, err := s.CircBuffer.nextSlot(at)
	if err != nil {
		return err
	}
	s.Signatures[end] = sample
	return nil
}

// ProcessData 以最新样本更新 last_signature
func (s *SignatureBuffer) ProcessData() {
	last := s.Signatures[s.CircBuffer.Indexes.End]
	if last.StatusCode == RelayCodeOK {
		s.LastSignature = last.Signature
		s.ErrorCode = 0
		return
	}
	s.LastSignature = ""
	s.ErrorCode = last.StatusCode
}

// ValidSignatures 按时间顺序返回有效签名
func (s *SignatureBuffer) ValidSignatures() []string {
	var out []string
	for _, idx := range s.CircBuffer.GetBufferValidIndexes() {
		if s.Signatures[idx].StatusCode == RelayCodeOK && s.Signatures[idx].Signature != "" {
			out = append(out, s.Signatures[idx].Signature)
		}
	}
	return out
}

// IsOK 是否有可用签名
func (s *SignatureBuffer) IsOK() bool {
	return s.LastSignature != "" && s.ErrorCode == 0
}

func bufferedStatus(code int) bool {
	return code == RelayCodeOK || code == RelayCodeSupplier || code == RelayCodeEvaluation
}
