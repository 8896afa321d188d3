package evaluation

import (
	"math"
	"math/rand"
	"testing"
)

// ========== Acc / AccNorm 测试 ==========

func TestAccMetric_Compute(t *testing.T) {
	tests := []struct {
		name     string
		input    *MetricInput
		expected float64
	}{
		{
			name:     "gold has highest loglikelihood",
			input:    &MetricInput{LogLikelihoods: []float64{-5, -1, -3}, Gold: 1},
			expected: 1.0,
		},
		{
			name:     "gold is not highest",
			input:    &MetricInput{LogLikelihoods: []float64{-5, -1, -3}, Gold: 2},
			expected: 0.0,
		},
		{
			name:     "tie picks first",
			input:    &MetricInput{LogLikelihoods: []float64{-1, -1}, Gold: 0},
			expected: 1.0,
		},
		{
			name:     "no choices",
			input:    &MetricInput{Gold: 0},
			expected: 0.0,
		},
	}

	m := NewAccMetric()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Compute(tt.input)
			if !almostEqual(got, tt.expected, 1e-9) {
				t.Errorf("Compute() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAccNormMetric_Compute(t *testing.T) {
	// 长候选的总对数似然更低，但按长度归一化后更好
	input := &MetricInput{
		LogLikelihoods: []float64{-2, -6},
		Choices:        []string{" a", " a much longer one"},
		Gold:           1,
	}
	if got := NewAccMetric().Compute(input); got != 0.0 {
		t.Errorf("acc = %v, want 0", got)
	}
	if got := NewAccNormMetric().Compute(input); got != 1.0 {
		t.Errorf("acc_norm = %v, want 1", got)
	}
}

// ========== ExactMatch 测试 ==========

func TestExactMatchMetric_Compute(t *testing.T) {
	gsm8k := NewExactMatchMetric(true, false, ",", `\$`, `(?s).*#### `, `\.$`)
	tests := []struct {
		name     string
		metric   *ExactMatchMetric
		input    *MetricInput
		expected float64
	}{
		{
			name:     "plain match",
			metric:   NewExactMatchMetric(false, false),
			input:    &MetricInput{Prediction: "Paris", References: []string{"Paris"}},
			expected: 1.0,
		},
		{
			name:     "case sensitive mismatch",
			metric:   NewExactMatchMetric(false, false),
			input:    &MetricInput{Prediction: "paris", References: []string{"Paris"}},
			expected: 0.0,
		},
		{
			name:     "ignore case",
			metric:   NewExactMatchMetric(true, false),
			input:    &MetricInput{Prediction: "paris", References: []string{"Paris"}},
			expected: 1.0,
		},
		{
			name:     "ignore punctuation",
			metric:   NewExactMatchMetric(false, true),
			input:    &MetricInput{Prediction: "Paris!", References: []string{"Paris"}},
			expected: 1.0,
		},
		{
			name:   "gsm8k reference with reasoning",
			metric: gsm8k,
			input: &MetricInput{
				Prediction: "1,200",
				References: []string{"She sells 3 * 400 = 1200 cups.\n#### 1200"},
			},
			expected: 1.0,
		},
		{
			name:     "any reference",
			metric:   NewExactMatchMetric(false, false),
			input:    &MetricInput{Prediction: "b", References: []string{"a", "b"}},
			expected: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.metric.Compute(tt.input)
			if !almostEqual(got, tt.expected, 1e-9) {
				t.Errorf("Compute() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// ========== MC2 测试 ==========

func TestMC2Metric_Compute(t *testing.T) {
	input := &MetricInput{
		LogLikelihoods: []float64{math.Log(0.3), math.Log(0.1), math.Log(0.4), math.Log(0.2)},
		Labels:         []int{1, 1, 0, 0},
	}
	got := NewMC2Metric().Compute(input)
	if !almostEqual(got, 0.4, 1e-9) {
		t.Errorf("Compute() = %v, want 0.4", got)
	}

	allTrue := &MetricInput{LogLikelihoods: []float64{-1, -2}, Labels: []int{1, 1}}
	if got := NewMC2Metric().Compute(allTrue); !almostEqual(got, 1.0, 1e-9) {
		t.Errorf("Compute() = %v, want 1", got)
	}
}

// ========== Listing 测试 ==========

func TestListingMetric_Compute(t *testing.T) {
	tests := []struct {
		name     string
		input    *MetricInput
		expected float64
	}{
		{
			name:     "set equality ignores order and spaces",
			input:    &MetricInput{Prediction: "kitchen, garden", References: []string{"garden", "kitchen"}, LeafLabel: "list"},
			expected: 1.0,
		},
		{
			name:     "missing item",
			input:    &MetricInput{Prediction: "kitchen", References: []string{"garden", "kitchen"}, LeafLabel: "list"},
			expected: 0.0,
		},
		{
			name:     "unknown label matches any answer",
			input:    &MetricInput{Prediction: "unknown", References: []string{"none", "unknown"}, LeafLabel: "unknown"},
			expected: 1.0,
		},
		{
			name:     "none label mismatch",
			input:    &MetricInput{Prediction: "kitchen", References: []string{"none", "nobody"}, LeafLabel: "none"},
			expected: 0.0,
		},
	}

	m := NewListingMetric()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Compute(tt.input)
			if !almostEqual(got, tt.expected, 1e-9) {
				t.Errorf("Compute() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMetricNames(t *testing.T) {
	metrics := []Metric{NewAccMetric(), NewAccNormMetric(), NewExactMatchMetric(false, false), NewMC2Metric(), NewListingMetric()}
	expected := []string{"acc", "acc_norm", "exact_match", "mc2", "listing"}
	for i, m := range metrics {
		if m.Name() != expected[i] {
			t.Errorf("Name() = %v, want %v", m.Name(), expected[i])
		}
	}
}

// ========== 聚合测试 ==========

func TestMeanAndMedian(t *testing.T) {
	xs := []float64{1, 0, 1, 1}
	if got := Mean(xs); !almostEqual(got, 0.75, 1e-9) {
		t.Errorf("Mean() = %v, want 0.75", got)
	}
	if got := Median(xs); !almostEqual(got, 1.0, 1e-9) {
		t.Errorf("Median() = %v, want 1", got)
	}
	if got := Median([]float64{3, 1, 2}); !almostEqual(got, 2.0, 1e-9) {
		t.Errorf("Median() = %v, want 2", got)
	}
	if Mean(nil) != 0 || Median(nil) != 0 {
		t.Error("empty input should aggregate to 0")
	}
}

func TestMeanStderr(t *testing.T) {
	// 样本方差 2/3，n=4
	got := MeanStderr([]float64{1, 2, 3, 2})
	want := math.Sqrt(2.0/3.0) / 2
	if !almostEqual(got, want, 1e-9) {
		t.Errorf("MeanStderr() = %v, want %v", got, want)
	}
	if !math.IsNaN(MeanStderr([]float64{1})) {
		t.Error("single sample stderr should be N/A")
	}
}

func TestStderrFor(t *testing.T) {
	if StderrFor(AggregationMean, 0, 1) != nil {
		t.Error("bootstrap_iters=0 should disable stderr")
	}
	if StderrFor("unknown", 10, 1) != nil {
		t.Error("unknown aggregation should have no stderr")
	}

	fn := StderrFor(AggregationMedian, 100000, 1234)
	xs := []float64{1, 5, 2, 8, 3, 9, 4}
	a, b := fn(xs), fn(xs)
	if a != b {
		t.Errorf("bootstrap with a fixed seed should be reproducible: %v != %v", a, b)
	}
	if math.IsNaN(a) || a <= 0 {
		t.Errorf("bootstrap stderr = %v, want positive", a)
	}
}

func TestBootstrapStderr_Constant(t *testing.T) {
	got := BootstrapStderr(Mean, []float64{2, 2, 2}, 50, rand.New(rand.NewSource(1)))
	if !almostEqual(got, 0, 1e-12) {
		t.Errorf("BootstrapStderr() = %v, want 0", got)
	}
}

func TestPooled(t *testing.T) {
	if got := PooledMetric([]float64{1.0, 0.5}, []int{10, 30}); !almostEqual(got, 0.625, 1e-9) {
		t.Errorf("PooledMetric() = %v, want 0.625", got)
	}
	if got := PooledMetric(nil, nil); got != 0 {
		t.Errorf("PooledMetric(nil) = %v, want 0", got)
	}

	// 两组 stderr 相同、大小相同
	got := PooledSampleStderr([]float64{0.1, 0.1}, []int{5, 5})
	want := math.Sqrt((4*0.01*5 + 4*0.01*5) / 8.0 / 10.0)
	if !almostEqual(got, want, 1e-12) {
		t.Errorf("PooledSampleStderr() = %v, want %v", got, want)
	}

	if !math.IsNaN(PooledSampleStderr([]float64{0.1, NA}, []int{5, 5})) {
		t.Error("pooled stderr with an N/A child should be N/A")
	}
	if !math.IsNaN(PooledSampleStderr([]float64{0.1}, []int{1})) {
		t.Error("pooled stderr without degrees of freedom should be N/A")
	}
}

func almostEqual(a, b, epsilon float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= epsilon
}
