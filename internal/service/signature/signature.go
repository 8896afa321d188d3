// Package signature 评估 tokenizer、config 与 identity 签名任务
package signature

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/mongodb"
	"github.com/ashwinyue/ml-testbench/internal/service/generator"
)

// 签名对象中必须存在的键
const (
	TokenizerConfigKey = "tokenizer_config"
	ConfigKey          = "config"
)

// TaskReader 读取任务文档
type TaskReader interface {
	GetTask(ctx context.Context, id primitive.ObjectID) (*model.Task, error)
}

// ResponseReader 读取任务的响应树
type ResponseReader interface {
	ResponseTree(ctx context.Context, taskID primitive.ObjectID) ([]mongodb.ResponseTreeRow, error)
}

// ResultWriter 写入签名结果，并在同一事务中插入新的 tokenizer/config
type ResultWriter interface {
	SaveSignature(ctx context.Context, res *model.SignatureResult, entries ...model.HashedEntry) error
}

// Service 签名评估服务
type Service struct {
	tasks       TaskReader
	responses   ResponseReader
	results     ResultWriter
	scratchRoot string
	logger      *zap.Logger
}

// NewService 创建签名评估服务，scratchRoot 为空时使用系统临时目录
func NewService(tasks TaskReader, responses ResponseReader, results ResultWriter, scratchRoot string, logger *zap.Logger) *Service {
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}
	return &Service{
		tasks:       tasks,
		responses:   responses,
		results:     results,
		scratchRoot: scratchRoot,
		logger:      logger,
	}
}

var nowUTC = func() time.Time { return time.Now().UTC() }

type evaluateFunc func(ctx context.Context, task *model.Task, rows []mongodb.ResponseTreeRow) (*model.SignatureResult, []model.HashedEntry)

// EvaluateTokenizer tokenizer_evaluate
func (s *Service) EvaluateTokenizer(ctx context.Context, taskID string) error {
	return s.evaluate(ctx, taskID, model.SignatureTokenizer, s.sidecarResult(TokenizerConfigKey, func(hash string, objects map[string]interface{}) model.HashedEntry {
		return &model.TokenizerEntry{Hash: hash, Tokenizer: objects}
	}))
}

// EvaluateConfig config_evaluate
func (s *Service) EvaluateConfig(ctx context.Context, taskID string) error {
	return s.evaluate(ctx, taskID, model.SignatureConfig, s.sidecarResult(ConfigKey, func(hash string, objects map[string]interface{}) model.HashedEntry {
		return &model.ConfigEntry{Hash: hash, Config: objects}
	}))
}

// EvaluateIdentity identity_evaluate
func (s *Service) EvaluateIdentity(ctx context.Context, taskID string) error {
	return s.evaluate(ctx, taskID, model.SignatureIdentity, s.identityResult)
}

// evaluate 公共流程：任何处理失败都写入失败结果，再返回原始错误
func (s *Service) evaluate(ctx context.Context, taskID, kind string, fn evaluateFunc) error {
	id, err := model.ParseTaskID(taskID)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("task_id", taskID), zap.String("signature", kind))

	res, entries, err := s.build(ctx, id, fn)
	if err != nil {
		log.Error("signature evaluation failed", zap.Error(err))
		failed := &model.SignatureResult{ResultData: model.FailedResultData(id), Signatures: []model.SignatureSample{}}
		if saveErr := s.results.SaveSignature(ctx, failed); saveErr != nil {
			log.Error("failed to save failed result", zap.Error(saveErr))
			return saveErr
		}
		return err
	}

	if err := s.results.SaveSignature(ctx, res, entries...); err != nil {
		return err
	}
	log.Info("signature task evaluated",
		zap.Int("num_samples", res.ResultData.NumSamples),
		zap.Int("new_entries", len(entries)))
	return nil
}

func (s *Service) build(ctx context.Context, id primitive.ObjectID, fn evaluateFunc) (*model.SignatureResult, []model.HashedEntry, error) {
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if task.Framework != model.FrameworkSignatures {
		return nil, nil, apperr.New(apperr.BadParams, "task %s has framework %q, want signatures", id.Hex(), task.Framework)
	}
	rows, err := s.responses.ResponseTree(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	res, entries := fn(ctx, task, rows)
	return res, entries, nil
}

func newResult(taskID primitive.ObjectID, rows []mongodb.ResponseTreeRow) *model.SignatureResult {
	var height int64
	for _, row := range rows {
		if row.Response.Height > height {
			height = row.Response.Height
		}
	}
	return &model.SignatureResult{ResultData: model.ResultData{
		TaskID:       taskID,
		Status:       model.ResultStatusOK,
		ResultHeight: height,
		ResultTime:   nowUTC(),
	}}
}

// sidecarResult tokenizer/config 共用：解码、落盘重载、规范化并哈希
func (s *Service) sidecarResult(required string, entry func(hash string, objects map[string]interface{}) model.HashedEntry) evaluateFunc {
	return func(ctx context.Context, task *model.Task, rows []mongodb.ResponseTreeRow) (*model.SignatureResult, []model.HashedEntry) {
		if len(rows) != 1 {
			s.logger.Warn("unexpected number of responses, using the first",
				zap.String("task_id", task.ID.Hex()),
				zap.Int("responses", len(rows)))
		}
		resp := rows[0].Response
		res := newResult(task.ID, rows[:1])
		res.ResultData.NumSamples = 1

		if resp.ErrorCode != 0 {
			res.Signatures = []model.SignatureSample{{StatusCode: resp.ErrorCode, ErrorStr: resp.Error}}
			return res, nil
		}

		hash, objects, err := s.loadObjects(task.ID.Hex(), resp.Response, required)
		if err != nil {
			s.logger.Info("cannot load signature objects from response",
				zap.String("task_id", task.ID.Hex()),
				zap.Error(err))
			res.Signatures = []model.SignatureSample{{StatusCode: model.SampleStatusLoadFail, ErrorStr: err.Error()}}
			return res, nil
		}
		res.Signatures = []model.SignatureSample{{Signature: hash}}
		return res, []model.HashedEntry{entry(hash, objects)}
	}
}

// loadObjects 解码响应，写入 /tmp/<task_id>-<uuid> 再读回，返回规范哈希。临时目录总会被删除
func (s *Service) loadObjects(taskID, body, required string) (string, map[string]interface{}, error) {
	objects, err := DecodeObjects(body)
	if err != nil {
		return "", nil, err
	}

	dir := filepath.Join(s.scratchRoot, taskID+"-"+uuid.NewString())
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove scratch dir", zap.String("dir", dir), zap.Error(err))
		}
	}()
	if err := WriteJSONDir(dir, objects); err != nil {
		return "", nil, err
	}
	return PrepareDir(dir, required)
}

// identityResult 每个响应一个签名：生成文本的 SHA-256
func (s *Service) identityResult(_ context.Context, task *model.Task, rows []mongodb.ResponseTreeRow) (*model.SignatureResult, []model.HashedEntry) {
	if len(rows) != generator.IdentitySignatureCount {
		s.logger.Warn("unexpected number of identity responses",
			zap.String("task_id", task.ID.Hex()),
			zap.Int("responses", len(rows)),
			zap.Int("expected", generator.IdentitySignatureCount))
	}

	res := newResult(task.ID, rows)
	res.Signatures = make([]model.SignatureSample, 0, len(rows))
	for _, row := range rows {
		sample := model.SignatureSample{ID: row.Instance.DocID}
		switch {
		case row.Response.ErrorCode != 0:
			sample.StatusCode = row.Response.ErrorCode
			sample.ErrorStr = row.Response.Error
		default:
			text, err := model.GeneratedText(task.RequesterArgs.Path, row.Response.Response)
			if err != nil {
				sample.StatusCode = model.SampleStatusDecode
				sample.ErrorStr = "failed to decode model response"
			} else {
				sample.Signature = TextHash(text)
			}
		}
		res.Signatures = append(res.Signatures, sample)
	}
	res.ResultData.NumSamples = len(res.Signatures)
	return res, nil
}
