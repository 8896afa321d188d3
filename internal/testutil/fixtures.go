// Package testutil 提供测试辅助工具
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ashwinyue/ml-testbench/internal/model"
)

// WriteFiles 在临时目录中写入文件，返回目录路径
func WriteFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// NumericalBuffer lmeh 任务的数值缓冲区，只填统计量
func NumericalBuffer(task string, samples uint32, mean, std float64) model.NumericalBuffer {
	return model.NumericalBuffer{
		TaskData:   model.BufferTaskData{Framework: model.FrameworkLMEH, Task: task},
		MeanScores: mean,
		StdScores:  std,
		CircBuffer: model.CircularBuffer{NumSamples: samples},
	}
}
