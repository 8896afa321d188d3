package register

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/config"
	"github.com/ashwinyue/ml-testbench/internal/model"
)

// DatasetLoader 下载数据集的全部 split
type DatasetLoader interface {
	Load(ctx context.Context, path, name string) (*model.Dataset, error)
}

// HFLoader 通过 HuggingFace datasets-server 的 REST 接口读取数据集
type HFLoader struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

var _ DatasetLoader = (*HFLoader)(nil)

// NewHFLoader 创建 datasets-server 加载器，client 为 nil 时使用默认客户端
func NewHFLoader(cfg config.DatasetsConfig, client *http.Client) *HFLoader {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &HFLoader{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pageSize: pageSize,
		client:   client,
	}
}

type splitsResponse struct {
	Splits []struct {
		Dataset string `json:"dataset"`
		Config  string `json:"config"`
		Split   string `json:"split"`
	} `json:"splits"`
}

type feature struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

type rowsResponse struct {
	Features []feature `json:"features"`
	Rows     []struct {
		RowIdx int                    `json:"row_idx"`
		Row    map[string]interface{} `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// Load 实现 DatasetLoader：先列出 split，再分页读取每个 split 的行
func (l *HFLoader) Load(ctx context.Context, path, name string) (*model.Dataset, error) {
	cfgName := name
	if cfgName == "" {
		cfgName = "default"
	}

	var splits splitsResponse
	if err := l.get(ctx, "/splits", url.Values{"dataset": {path}}, &splits); err != nil {
		return nil, err
	}

	ds := &model.Dataset{Path: path, Name: name, Splits: map[string][]model.Row{}}
	for _, s := range splits.Splits {
		if s.Config != cfgName {
			continue
		}
		rows, err := l.loadSplit(ctx, path, cfgName, s.Split)
		if err != nil {
			return nil, err
		}
		ds.Splits[s.Split] = rows
	}
	if len(ds.Splits) == 0 {
		return nil, apperr.New(apperr.BadParams, "dataset %s has no splits for config %s", path, cfgName)
	}
	return ds, nil
}

func (l *HFLoader) loadSplit(ctx context.Context, path, cfgName, split string) ([]model.Row, error) {
	var rows []model.Row
	for offset := 0; ; offset += l.pageSize {
		var page rowsResponse
		q := url.Values{
			"dataset": {path},
			"config":  {cfgName},
			"split":   {split},
			"offset":  {fmt.Sprint(offset)},
			"length":  {fmt.Sprint(l.pageSize)},
		}
		if err := l.get(ctx, "/rows", q, &page); err != nil {
			return nil, err
		}

		types := make(map[string]featureType, len(page.Features))
		for _, f := range page.Features {
			types[f.Name] = parseFeatureType(f.Type)
		}
		for _, r := range page.Rows {
			row := make(model.Row, len(r.Row))
			for k, v := range r.Row {
				row[k] = types[k].convert(v)
			}
			rows = append(rows, row)
		}

		if len(page.Rows) == 0 || offset+len(page.Rows) >= page.NumRowsTotal {
			return rows, nil
		}
	}
}

func (l *HFLoader) get(ctx context.Context, endpoint string, q url.Values, out interface{}) error {
	reqURL := fmt.Sprintf("%s%s?%s", l.baseURL, endpoint, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call datasets server %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("datasets server %s returned %d: %s", endpoint, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// featureType datasets 的特征类型，只保留转换需要的部分
type featureType struct {
	kind   string // Value, ClassLabel, Sequence, dict
	dtype  string
	elem   *featureType
	fields map[string]featureType
}

func parseFeatureType(raw json.RawMessage) featureType {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		// list 形式的 Sequence，如 [{"dtype": "string"}]
		var list []json.RawMessage
		if json.Unmarshal(raw, &list) == nil && len(list) == 1 {
			elem := parseFeatureType(list[0])
			return featureType{kind: "Sequence", elem: &elem}
		}
		return featureType{}
	}

	var kind string
	if t, ok := probe["_type"]; ok {
		_ = json.Unmarshal(t, &kind)
	}
	switch kind {
	case "Value":
		var dtype string
		_ = json.Unmarshal(probe["dtype"], &dtype)
		return featureType{kind: kind, dtype: dtype}
	case "ClassLabel":
		return featureType{kind: kind, dtype: "int64"}
	case "Sequence", "List", "LargeList":
		elem := parseFeatureType(probe["feature"])
		return featureType{kind: "Sequence", elem: &elem}
	case "":
		fields := make(map[string]featureType, len(probe))
		for k, v := range probe {
			fields[k] = parseFeatureType(v)
		}
		return featureType{kind: "dict", fields: fields}
	default:
		return featureType{kind: kind}
	}
}

// convert JSON 解码得到的值按特征类型还原为 Go 类型，整数不再是 float64
func (f featureType) convert(v interface{}) interface{} {
	switch f.kind {
	case "Value", "ClassLabel":
		n, ok := v.(float64)
		if !ok {
			return v
		}
		switch {
		case strings.HasPrefix(f.dtype, "int"), strings.HasPrefix(f.dtype, "uint"):
			return int64(n)
		case strings.HasPrefix(f.dtype, "float"):
			return n
		}
		return v
	case "Sequence":
		items, ok := v.([]interface{})
		if !ok || f.elem == nil {
			return v
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = f.elem.convert(item)
		}
		return out
	case "dict":
		m, ok := v.(map[string]interface{})
		if !ok {
			return v
		}
		out := make(map[string]interface{}, len(m))
		for k, item := range m {
			out[k] = f.fields[k].convert(item)
		}
		return out
	}
	return v
}
