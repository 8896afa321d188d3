package lmeh

import (
	"fmt"
	"strconv"

	"github.com/ashwinyue/ml-testbench/internal/model"
)

// 数据集表经 row_to_json 读回后，数组为 []interface{}，对象为 map[string]interface{}，
// 数字为 float64。以下函数把这些值还原为任务需要的类型。

func stringsOf(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch x := item.(type) {
		case string:
			out = append(out, x)
		case nil:
			out = append(out, "")
		default:
			out = append(out, fmt.Sprint(x))
		}
	}
	return out
}

func intsOf(v interface{}) []int {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := intOf(item)
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}

func intOf(v interface{}) (int, error) {
	switch x := v.(type) {
	case float64:
		return int(x), nil
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected integer value %v (%T)", v, v)
	}
}

func field(doc model.Doc, path ...string) interface{} {
	var cur interface{} = map[string]interface{}(doc.Fields)
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func indexOf(items []string, want string) int {
	for i, item := range items {
		if item == want {
			return i
		}
	}
	return -1
}
