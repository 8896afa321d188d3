package signature

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ModelMaxLengthKey tokenizer_config / config 中需要规整为整数的字段
const ModelMaxLengthKey = "model_max_length"

// CanonicalJSON 键排序、不转义 HTML 的紧凑 JSON
func CanonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode canonical json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalHash 规范 JSON 的 SHA-256 十六进制摘要
func CanonicalHash(v interface{}) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// TextHash 文本的 SHA-256 十六进制摘要
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// WriteJSONDir 把每个对象写成 dir/<key>.json
func WriteJSONDir(dir string, objects map[string]interface{}) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", dir, err)
	}
	for key, value := range objects {
		if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
			return fmt.Errorf("invalid object name %q", key)
		}
		data, err := CanonicalJSON(value)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, key+".json"), data, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return nil
}

// LoadJSONDir 读取目录下全部 *.json，以文件名（去扩展名）为键。
// 数字保留为 json.Number，重新序列化时不丢精度
func LoadJSONDir(dir string) (map[string]interface{}, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no json files in %s", dir)
	}

	out := make(map[string]interface{}, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(p), err)
		}
		out[strings.TrimSuffix(filepath.Base(p), ".json")] = v
	}
	return out, nil
}

// PrepareDir 读取目录中的对象，要求 required 为 JSON 对象，规整 model_max_length 后计算规范哈希
func PrepareDir(dir, required string) (string, map[string]interface{}, error) {
	objects, err := LoadJSONDir(dir)
	if err != nil {
		return "", nil, err
	}
	if _, ok := objects[required].(map[string]interface{}); !ok {
		return "", nil, fmt.Errorf("missing %s object", required)
	}
	if err := NormalizeMaxLength(objects); err != nil {
		return "", nil, err
	}
	hash, err := CanonicalHash(objects)
	if err != nil {
		return "", nil, err
	}
	return hash, objects, nil
}

// DecodeObjects 解析响应体为 名称 → JSON 对象
func DecodeObjects(body string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var objects map[string]interface{}
	if err := dec.Decode(&objects); err != nil {
		return nil, fmt.Errorf("failed to decode objects: %w", err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("response has no objects")
	}
	return objects, nil
}

// NormalizeMaxLength 把各对象中的 model_max_length 规整为整数
func NormalizeMaxLength(objects map[string]interface{}) error {
	for name, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		v, ok := m[ModelMaxLengthKey]
		if !ok {
			continue
		}
		n, err := integerNumber(v)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", name, ModelMaxLengthKey, err)
		}
		m[ModelMaxLengthKey] = n
	}
	return nil
}

// integerNumber 数值或数字字符串转为整数形式的 json.Number，超出 int64 的大数按截断后的整数文本保存
func integerNumber(v interface{}) (json.Number, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		s = strings.TrimSpace(x)
	default:
		return "", fmt.Errorf("unsupported value %v", v)
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return json.Number(strconv.FormatInt(i, 10)), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("not a number: %q", s)
	}
	return json.Number(new(big.Float).SetFloat64(math.Trunc(f)).Text('f', 0)), nil
}
