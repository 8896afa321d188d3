package reconstruct

import (
	"errors"

	"github.com/ashwinyue/ml-testbench/internal/model"
)

// ErrNoLogprobs echo 响应中缺少 logprobs
var ErrNoLogprobs = errors.New("completion response has no logprobs")

// Loglikelihood 续写部分的对数似然之和，以及续写是否为贪心解码结果。
// 有 text_offset 时按字符偏移 >= contextLen 选取续写 token，否则按 token 下标 >= ctxlen
func Loglikelihood(lp *model.CompletionLogprobs, contextLen, ctxlen int) (float64, bool, error) {
	if lp == nil || len(lp.TokenLogprobs) == 0 {
		return 0, false, ErrNoLogprobs
	}

	start := ctxlen
	if len(lp.TextOffset) == len(lp.TokenLogprobs) {
		start = len(lp.TextOffset)
		for i, off := range lp.TextOffset {
			if off >= contextLen {
				start = i
				break
			}
		}
	}
	if start > len(lp.TokenLogprobs) {
		start = len(lp.TokenLogprobs)
	}

	var sum float64
	greedy := true
	for i := start; i < len(lp.TokenLogprobs); i++ {
		if lp.TokenLogprobs[i] != nil {
			sum += *lp.TokenLogprobs[i]
		}
		if greedy && i < len(lp.TopLogprobs) && i < len(lp.Tokens) {
			if top, ok := topToken(lp.TopLogprobs[i]); ok && top != lp.Tokens[i] {
				greedy = false
			}
		}
	}
	return sum, greedy, nil
}

func topToken(candidates map[string]float64) (string, bool) {
	var (
		best  string
		bestP float64
		found bool
	)
	for tok, p := range candidates {
		if !found || p > bestP || (p == bestP && tok < best) {
			best, bestP, found = tok, p, true
		}
	}
	return best, found
}
