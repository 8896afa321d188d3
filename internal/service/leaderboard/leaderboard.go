// Package leaderboard 汇总各供应方的数值缓冲区，生成排行榜
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/service/evaluation"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
)

const (
	// Redis key
	cacheKey = "leaderboard:full"
	// 同时汇总的供应方数量
	maxConcurrentSuppliers = 8
)

// ErrEmpty 没有任何供应方的数据
var ErrEmpty = errors.New("leaderboard is empty")

var nowUTC = func() time.Time { return time.Now().UTC() }

// displayNames 排行榜上的任务名
var displayNames = map[string]string{
	"arc_challenge":  "arc",
	"hellaswag":      "hellaswag",
	lmeh.MMLUGroup:   "mmlu",
	"truthfulqa_mc2": "truthfulqa",
	"winogrande":     "winogrande",
	"gsm8k":          "gsm8k",
}

// Metric 均值与标准误
type Metric struct {
	Mean   float64 `json:"mean"`
	Stderr float64 `json:"stderr"`
}

// QoS 服务质量
type QoS struct {
	ErrorRate    float64 `json:"error_rate"`
	ResponseTime float64 `json:"response_time"`
}

// Metadata 供应方信息
type Metadata struct {
	Service        string `json:"service"`
	LastSeenHeight int64  `json:"last_seen_height"`
	LastSeenTime   string `json:"last_seen_time"`
}

// Entry 一个供应方的排行榜条目
type Entry struct {
	QoS      QoS               `json:"qos"`
	Metrics  map[string]Metric `json:"metrics"`
	Metadata Metadata          `json:"metadata"`
}

// Board address -> 条目
type Board map[string]Entry

// SupplierLister 列出供应方
type SupplierLister interface {
	List(ctx context.Context) ([]model.Supplier, error)
}

// BufferReader 读取供应方的全部数值缓冲区
type BufferReader interface {
	SupplierNumericalBuffers(ctx context.Context, supplierID primitive.ObjectID) ([]model.NumericalBuffer, error)
}

// Service 排行榜服务
type Service struct {
	suppliers SupplierLister
	buffers   BufferReader
	cache     *redis.Client
	ttl       time.Duration
	logger    *zap.Logger
}

// NewService 创建排行榜服务，cache 为 nil 时不缓存
func NewService(suppliers SupplierLister, buffers BufferReader, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		suppliers: suppliers,
		buffers:   buffers,
		cache:     cache,
		ttl:       ttl,
		logger:    logger,
	}
}

// Get 返回排行榜，优先读缓存。单个供应方失败只记录日志
func (s *Service) Get(ctx context.Context) (Board, error) {
	if board := s.loadFromCache(ctx); board != nil {
		return board, nil
	}

	suppliers, err := s.suppliers.List(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	board := make(Board, len(suppliers))
	now := nowUTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSuppliers)
	for _, sup := range suppliers {
		sup := sup
		g.Go(func() error {
			buffers, err := s.buffers.SupplierNumericalBuffers(gctx, sup.ID)
			if err == nil {
				err = refresh(buffers, now)
			}
			if err == nil {
				var entry Entry
				if entry, err = BuildEntry(&sup, buffers); err == nil {
					mu.Lock()
					board[sup.Address] = entry
					mu.Unlock()
					return nil
				}
			}
			s.logger.Warn("failed to retrieve leaderboard data for supplier",
				zap.String("supplier_id", sup.ID.Hex()),
				zap.Error(err))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(board) == 0 {
		return nil, ErrEmpty
	}
	s.saveToCache(ctx, board)
	return board, nil
}

// loadFromCache 从 Redis 读取
func (s *Service) loadFromCache(ctx context.Context) Board {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to read leaderboard cache", zap.Error(err))
		}
		return nil
	}
	var board Board
	if err := json.Unmarshal(data, &board); err != nil {
		return nil
	}
	return board
}

// saveToCache 写入 Redis，失败不影响返回
func (s *Service) saveToCache(ctx context.Context, board Board) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(board)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey, data, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to save leaderboard cache", zap.Error(err))
	}
}

// ========== 汇总 ==========

// refresh 在内存中丢弃过期样本，不写回
func refresh(buffers []model.NumericalBuffer, now time.Time) error {
	for i := range buffers {
		if _, err := buffers[i].Refresh(now); err != nil {
			return fmt.Errorf("failed to refresh buffer %s: %w", buffers[i].TaskData.Task, err)
		}
	}
	return nil
}

// taskStats 一个任务缓冲区的均值、标准误和权重
type taskStats struct {
	mean, stderr, weight float64
}

func statsOf(b *model.NumericalBuffer) taskStats {
	n := float64(b.NumSamples())
	if n <= 0 {
		return taskStats{}
	}
	return taskStats{mean: b.MeanScores, stderr: b.StdScores / math.Sqrt(n), weight: n}
}

// BuildEntry 由供应方的 lmeh 数值缓冲区计算排行榜条目。
// 任一排行榜任务缺少缓冲区时返回错误
func BuildEntry(sup *model.Supplier, buffers []model.NumericalBuffer) (Entry, error) {
	byTask := make(map[string]*model.NumericalBuffer, len(buffers))
	for i := range buffers {
		if buffers[i].TaskData.Framework != model.FrameworkLMEH {
			continue
		}
		byTask[buffers[i].TaskData.Task] = &buffers[i]
	}
	lookup := func(task string) (*model.NumericalBuffer, error) {
		b, ok := byTask[task]
		if !ok {
			return nil, fmt.Errorf("no buffer for task %s", task)
		}
		return b, nil
	}

	entry := Entry{
		Metrics: make(map[string]Metric, len(displayNames)+1),
		Metadata: Metadata{
			Service:        sup.Service,
			LastSeenHeight: sup.LastSeenHeight,
			LastSeenTime:   sup.LastSeenTime.UTC().Format(time.RFC3339),
		},
	}

	var avgSum, avgWeight, avgVar float64
	var used []*model.NumericalBuffer
	for _, task := range lmeh.LeaderboardTasks() {
		var st taskStats
		if task == lmeh.MMLUGroup {
			subjects := make([]*model.NumericalBuffer, 0, len(lmeh.MMLUSubjects))
			for _, subject := range lmeh.MMLUSubjects {
				b, err := lookup(lmeh.MMLUGroup + "_" + subject)
				if err != nil {
					return Entry{}, err
				}
				subjects = append(subjects, b)
			}
			st = pooledStats(subjects)
			used = append(used, subjects...)
		} else {
			b, err := lookup(task)
			if err != nil {
				return Entry{}, err
			}
			st = statsOf(b)
			used = append(used, b)
		}

		entry.Metrics[displayNames[task]] = Metric{Mean: st.mean, Stderr: st.stderr}
		avgSum += st.mean * st.weight
		avgWeight += st.weight
		avgVar += st.stderr * st.stderr
	}

	average := Metric{}
	if avgWeight > 0 {
		average = Metric{Mean: avgSum / avgWeight, Stderr: math.Sqrt(avgVar)}
	}
	entry.Metrics[lmeh.MetricAverage] = average
	entry.QoS = qosOf(used)
	return entry, nil
}

// pooledStats 按样本数加权合并子任务；权重取子任务的平均样本数
func pooledStats(buffers []*model.NumericalBuffer) taskStats {
	var total, variance float64
	parts := make([]taskStats, 0, len(buffers))
	means := make([]float64, 0, len(buffers))
	sizes := make([]int, 0, len(buffers))
	for _, b := range buffers {
		st := statsOf(b)
		parts = append(parts, st)
		means = append(means, st.mean)
		sizes = append(sizes, int(b.NumSamples()))
		total += st.weight
	}
	if total == 0 {
		return taskStats{}
	}
	for _, st := range parts {
		w := st.stderr * st.weight / total
		variance += w * w
	}
	return taskStats{
		mean:   evaluation.PooledMetric(means, sizes),
		stderr: math.Sqrt(variance),
		weight: total / float64(len(buffers)),
	}
}

// qosOf error_rate 取缓冲区错误率的平均，response_time 取有样本缓冲区 mean_times 的平均
func qosOf(buffers []*model.NumericalBuffer) QoS {
	var q QoS
	if len(buffers) == 0 {
		return q
	}
	timed := 0
	for _, b := range buffers {
		q.ErrorRate += b.ErrorRate
		if b.NumSamples() > 0 {
			q.ResponseTime += b.MeanTimes
			timed++
		}
	}
	q.ErrorRate /= float64(len(buffers))
	if timed > 0 {
		q.ResponseTime /= float64(timed)
	}
	return q
}
