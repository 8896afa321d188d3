// Package reconstruct 把任务的响应树还原为带响应的 lmeh 实例
package reconstruct

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/mongodb"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
)

// TreeReader 读取 tasks ⋈ instances ⋈ prompts ⋈ responses
type TreeReader interface {
	ResponseTree(ctx context.Context, taskID primitive.ObjectID) ([]mongodb.ResponseTreeRow, error)
}

// Service 响应重建服务
type Service struct {
	reader TreeReader
	logger *zap.Logger
}

// NewService 创建响应重建服务
func NewService(reader TreeReader, logger *zap.Logger) *Service {
	return &Service{reader: reader, logger: logger}
}

// Instances 读取并重建任务的全部实例，按 (doc_id, idx) 排序
func (s *Service) Instances(ctx context.Context, task *model.Task) ([]*lmeh.Instance, error) {
	rows, err := s.reader.ResponseTree(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	instances := Rebuild(rows, task.RequesterArgs.Path)
	for _, inst := range instances {
		if inst.ErrorCode != 0 {
			s.logger.Debug("instance response failed",
				zap.String("task_id", task.ID.Hex()),
				zap.Int("doc_id", inst.DocID),
				zap.Int("idx", inst.Idx),
				zap.Int("error_code", inst.ErrorCode))
		}
	}
	return instances, nil
}

// Rebuild 每行还原一个实例，repeats 固定为 1。
// 失败的响应保留其错误码；无法解析的响应记为 SampleStatusDecode
func Rebuild(rows []mongodb.ResponseTreeRow, path string) []*lmeh.Instance {
	out := make([]*lmeh.Instance, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		inst := lmeh.FromModel(&row.Instance)
		inst.Repeats = 1
		inst.ErrorCode = row.Response.ErrorCode
		inst.ResponseTime = row.Response.ResponseTime
		inst.Height = row.Response.Height

		if !row.Response.Ok && inst.ErrorCode == 0 {
			inst.ErrorCode = model.SampleStatusDecode
		}
		if inst.ErrorCode != 0 {
			inst.Resps = []lmeh.Resp{{}}
			out = append(out, inst)
			continue
		}

		resp, err := decodeResp(inst, &row.Prompt, row.Response.Response, path)
		if err != nil {
			inst.ErrorCode = model.SampleStatusDecode
			resp = lmeh.Resp{}
		}
		inst.Resps = []lmeh.Resp{resp}
		out = append(out, inst)
	}
	return out
}

func decodeResp(inst *lmeh.Instance, prompt *model.Prompt, body, path string) (lmeh.Resp, error) {
	if inst.RequestType != model.RequestLoglikelihood {
		text, err := model.GeneratedText(path, body)
		if err != nil {
			return lmeh.Resp{}, err
		}
		return lmeh.Resp{Text: text}, nil
	}

	resp, err := model.DecodeCompletion(body)
	if err != nil {
		return lmeh.Resp{}, err
	}
	ll, greedy, err := Loglikelihood(resp.Choices[0].Logprobs, len(inst.Context()), prompt.CtxLen)
	if err != nil {
		return lmeh.Resp{}, err
	}
	return lmeh.Resp{LogLikelihood: ll, IsGreedy: greedy}, nil
}
