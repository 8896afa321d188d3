// Package sidecar 读取本地 tokenizer 与 config 文件，提供与签名评估一致的规范哈希
package sidecar

import (
	"fmt"

	"github.com/ashwinyue/ml-testbench/internal/service/signature"
)

// Document 对象集合及其哈希
type Document struct {
	Objects map[string]interface{}
	Hash    string
}

// Bundle 启动时加载一次，之后只读
type Bundle struct {
	Tokenizer Document
	Config    Document
}

// Load 读取 tokenizer 与 config 目录。configDir 为空时与 tokenizer 共用目录。
// tokenizer 内容合并了 config 对象，哈希按合并后的内容计算，与评估端对响应体的哈希一致
func Load(tokenizerDir, configDir string) (*Bundle, error) {
	if configDir == "" {
		configDir = tokenizerDir
	}

	_, tokObjects, err := signature.PrepareDir(tokenizerDir, signature.TokenizerConfigKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	cfgHash, cfgObjects, err := signature.PrepareDir(configDir, signature.ConfigKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	merged := make(map[string]interface{}, len(tokObjects)+len(cfgObjects))
	for k, v := range tokObjects {
		merged[k] = v
	}
	for k, v := range cfgObjects {
		merged[k] = v
	}

	tokHash, err := signature.CanonicalHash(merged)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Tokenizer: Document{Objects: merged, Hash: tokHash},
		Config:    Document{Objects: cfgObjects, Hash: cfgHash},
	}, nil
}
