// Package sampler 从物化后的数据集表中选取待评测的文档
package sampler

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// Splits 任务声明的 split 名称，空串表示未声明
type Splits struct {
	Test       string
	Validation string
	Training   string
	Fewshot    string
}

// Request 一次取样的参数
type Request struct {
	Qty       int
	DocIDs    []int
	Blacklist []int
}

// Result 取样结果
type Result struct {
	// Split 主 split
	Split  string
	DocIDs []int
	// Where 选取样本行以及其他声明 split 全部行的 WHERE 子句
	Where string
}

// PrimarySplit test 优先，其次 validation；都不存在时返回 BadParams
func PrimarySplit(splits Splits, ranges map[string]model.SplitRange) (string, error) {
	for _, name := range []string{splits.Test, splits.Validation} {
		if name == "" {
			continue
		}
		if _, ok := ranges[name]; ok {
			return name, nil
		}
	}
	return "", apperr.New(apperr.BadParams,
		"neither test split %q nor validation split %q found, available splits: %v",
		splits.Test, splits.Validation, splitNames(ranges))
}

// Sample 按规则选取文档：
// qty<0 取主 split 全部文档并忽略黑名单；给定 doc_ids 时校验其范围；否则随机抽取 qty 个
func Sample(splits Splits, ranges map[string]model.SplitRange, req Request, rnd *rand.Rand) (*Result, error) {
	primary, err := PrimarySplit(splits, ranges)
	if err != nil {
		return nil, err
	}
	r := ranges[primary]

	var ids []int
	switch {
	case req.Qty < 0:
		ids = AllDocIDs(r)
	case len(req.DocIDs) > 0:
		for _, id := range req.DocIDs {
			if !r.Contains(id) {
				return nil, apperr.New(apperr.BadParams,
					"doc_id %d not in split %q range [%d-%d]", id, primary, r.Min, r.Max)
			}
		}
		ids = append([]int(nil), req.DocIDs...)
		sort.Ints(ids)
	default:
		ids, err = RandomDocIDs(r, req.Qty, req.Blacklist, rnd)
		if err != nil {
			return nil, err
		}
	}

	where, err := WhereClause(primary, ids, splits, ranges)
	if err != nil {
		return nil, err
	}
	return &Result{Split: primary, DocIDs: ids, Where: where}, nil
}

// AllDocIDs 区间内全部 id
func AllDocIDs(r model.SplitRange) []int {
	ids := make([]int, 0, r.Size())
	for id := r.Min; id <= r.Max; id++ {
		ids = append(ids, id)
	}
	return ids
}

// RandomDocIDs 从 [min,max] 去掉黑名单后无放回抽取 qty 个，结果有序
func RandomDocIDs(r model.SplitRange, qty int, blacklist []int, rnd *rand.Rand) ([]int, error) {
	if qty <= 0 {
		return nil, apperr.New(apperr.BadParams, "qty must be positive, got %d", qty)
	}

	excluded := make(map[int]struct{}, len(blacklist))
	for _, id := range blacklist {
		if r.Contains(id) {
			excluded[id] = struct{}{}
		}
	}
	if len(blacklist) > 0 && len(excluded) == 0 {
		return nil, apperr.New(apperr.BadParams,
			"blacklist %v does not intersect range [%d-%d]", blacklist, r.Min, r.Max)
	}

	available := r.Size() - len(excluded)
	if qty > available {
		return nil, apperr.New(apperr.BadParams,
			"qty %d greater than available ids %d in range [%d-%d]", qty, available, r.Min, r.Max)
	}

	pool := make([]int, 0, available)
	for id := r.Min; id <= r.Max; id++ {
		if _, ok := excluded[id]; !ok {
			pool = append(pool, id)
		}
	}
	rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	ids := append([]int(nil), pool[:qty]...)
	sort.Ints(ids)
	return ids, nil
}

// WhereClause 主 split 选中的 id，加上其他声明 split 的整个区间
func WhereClause(primary string, ids []int, splits Splits, ranges map[string]model.SplitRange) (string, error) {
	if len(ids) == 0 {
		return "", apperr.New(apperr.BadParams, "no doc ids selected from split %q", primary)
	}

	col := `"` + model.DatasetIDColumn + `"`
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	clauses := []string{fmt.Sprintf("%s IN (%s)", col, strings.Join(parts, ", "))}

	seen := map[string]struct{}{primary: {}}
	extra := []string{splits.Validation, splits.Training, splits.Fewshot}
	if primary == splits.Validation {
		extra = []string{splits.Training, splits.Fewshot}
	}
	for _, name := range extra {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		r, ok := ranges[name]
		if !ok {
			return "", apperr.New(apperr.BadParams, "declared split %q not found, available splits: %v", name, splitNames(ranges))
		}
		clauses = append(clauses, fmt.Sprintf("%s BETWEEN %d AND %d", col, r.Min, r.Max))
	}
	return strings.Join(clauses, " OR "), nil
}

func splitNames(ranges map[string]model.SplitRange) []string {
	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
