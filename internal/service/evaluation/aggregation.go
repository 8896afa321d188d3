package evaluation

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// 聚合方式
const (
	AggregationMean   = "mean"
	AggregationMedian = "median"
)

// MaxBootstrapIters bootstrap 迭代上限
const MaxBootstrapIters = 100

// Aggregation 将每个样本的指标值聚合为一个数
type Aggregation func(xs []float64) float64

// NA 无法计算的标准误
var NA = math.NaN()

// Mean 算术平均，空输入为 0
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// Median 中位数，空输入为 0
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// AggregationByName 按名称取聚合函数
func AggregationByName(name string) (Aggregation, bool) {
	switch name {
	case AggregationMean:
		return Mean, true
	case AggregationMedian:
		return Median, true
	default:
		return nil, false
	}
}

// MeanStderr 均值的样本标准误 stdev/√n，n<2 时为 NA
func MeanStderr(xs []float64) float64 {
	if len(xs) < 2 {
		return NA
	}
	return stat.StdDev(xs, nil) / math.Sqrt(float64(len(xs)))
}

// BootstrapStderr 对 fn 做 iters 次有放回重采样，返回结果的标准差
func BootstrapStderr(fn Aggregation, xs []float64, iters int, rnd *rand.Rand) float64 {
	if iters < 2 || len(xs) == 0 {
		return NA
	}
	stats := make([]float64, iters)
	sample := make([]float64, len(xs))
	for i := range stats {
		for j := range sample {
			sample[j] = xs[rnd.Intn(len(xs))]
		}
		stats[i] = fn(sample)
	}
	return stat.StdDev(stats, nil)
}

// StderrFor 返回聚合对应的标准误计算：mean 用解析式，其他聚合用 bootstrap，
// 迭代次数上限为 MaxBootstrapIters；bootstrapIters 为 0 时返回 nil 表示不计算
func StderrFor(aggregation string, bootstrapIters int, seed int64) func(xs []float64) float64 {
	if bootstrapIters <= 0 {
		return nil
	}
	if aggregation == AggregationMean {
		return MeanStderr
	}
	fn, ok := AggregationByName(aggregation)
	if !ok {
		return nil
	}
	iters := bootstrapIters
	if iters > MaxBootstrapIters {
		iters = MaxBootstrapIters
	}
	return func(xs []float64) float64 {
		return BootstrapStderr(fn, xs, iters, rand.New(rand.NewSource(seed)))
	}
}

// PooledMetric 按样本数加权的子任务平均
func PooledMetric(metrics []float64, sizes []int) float64 {
	var num, den float64
	for i, m := range metrics {
		num += m * float64(sizes[i])
		den += float64(sizes[i])
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// PooledSampleStderr 合并子任务的样本标准误，任一子任务为 NA 时结果为 NA
func PooledSampleStderr(stderrs []float64, sizes []int) float64 {
	if len(stderrs) == 0 {
		return NA
	}
	var num float64
	total := 0
	for i, se := range stderrs {
		if math.IsNaN(se) {
			return NA
		}
		size := float64(sizes[i])
		num += (size - 1) * se * se * size
		total += sizes[i]
	}
	dof := total - len(sizes)
	if dof <= 0 || total == 0 {
		return NA
	}
	return math.Sqrt(num / float64(dof) / float64(total))
}
