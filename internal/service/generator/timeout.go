package generator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ashwinyue/ml-testbench/internal/config"
)

// DefaultTimeout 未配置超时模型时的请求超时（秒）
const DefaultTimeout = 60.0

// TimeoutHandler 根据上下文长度和生成长度估算请求超时：
// ttft(prefill) + tpot*decode + queue，ttft 为对配置采样点的二次最小二乘拟合
type TimeoutHandler struct {
	coef  []float64
	tpot  float64
	queue float64
}

// NewTimeoutHandler 由配置创建；没有 ttft 采样点时使用默认超时
func NewTimeoutHandler(cfg config.TimeoutConfig) (*TimeoutHandler, error) {
	if len(cfg.TTFT) == 0 {
		return &TimeoutHandler{}, nil
	}

	n := len(cfg.TTFT)
	if n < 3 {
		return nil, fmt.Errorf("ttft needs at least 3 points for a quadratic fit, got %d", n)
	}
	a := mat.NewDense(n, 3, nil)
	y := mat.NewVecDense(n, nil)
	for i, point := range cfg.TTFT {
		if len(point) != 2 {
			return nil, fmt.Errorf("invalid ttft point %v: expected [prompt_len, seconds]", point)
		}
		x := point[0]
		a.Set(i, 0, 1)
		a.Set(i, 1, x)
		a.Set(i, 2, x*x)
		y.SetVec(i, point[1])
	}

	var coef mat.VecDense
	if err := coef.SolveVec(a, y); err != nil {
		return nil, fmt.Errorf("failed to fit ttft polynomial: %w", err)
	}
	return &TimeoutHandler{
		coef:  []float64{coef.AtVec(0), coef.AtVec(1), coef.AtVec(2)},
		tpot:  cfg.TPOT,
		queue: cfg.Queue,
	}, nil
}

// Configured 是否有超时模型
func (h *TimeoutHandler) Configured() bool {
	return len(h.coef) == 3
}

// TTFT 首 token 时间估计
func (h *TimeoutHandler) TTFT(prefill int) float64 {
	if !h.Configured() {
		return 0
	}
	x := float64(prefill)
	return h.coef[0] + h.coef[1]*x + h.coef[2]*x*x
}

// Timeout 请求超时（秒，向上取整）
func (h *TimeoutHandler) Timeout(prefill, decode int) int {
	if !h.Configured() {
		return int(DefaultTimeout)
	}
	t := h.TTFT(prefill) + h.tpot*float64(decode) + h.queue
	return int(math.Ceil(t))
}
