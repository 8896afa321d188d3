// Package register 注册 lmeh 任务：下载数据集、物化到 Postgres 并登记任务名
package register

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ashwinyue/ml-testbench/internal/apperr"
	"github.com/ashwinyue/ml-testbench/internal/model"
	"github.com/ashwinyue/ml-testbench/internal/repository"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
)

// Registrar 注册表读写
type Registrar interface {
	Checked(ctx context.Context, taskName string) (bool, error)
	Register(ctx context.Context, taskName, table string) error
}

// DatasetTables 登记表的创建与数据集表的存在检查
type DatasetTables interface {
	CreateTaskTable(ctx context.Context) error
	TableExists(ctx context.Context, table string) bool
}

// Service 任务注册服务
type Service struct {
	library      lmeh.Library
	registry     Registrar
	tables       DatasetTables
	materializer repository.Materializer
	loader       DatasetLoader
	maxWorkers   int
	logger       *zap.Logger

	flight       singleflight.Group
	mu           sync.Mutex
	materialized map[string]struct{}
}

// NewService 创建注册服务
func NewService(library lmeh.Library, registry Registrar, tables DatasetTables, materializer repository.Materializer,
	loader DatasetLoader, maxWorkers int, logger *zap.Logger) *Service {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Service{
		library:      library,
		registry:     registry,
		tables:       tables,
		materializer: materializer,
		loader:       loader,
		maxWorkers:   maxWorkers,
		logger:       logger,
		materialized: make(map[string]struct{}),
	}
}

// RegisterTask 注册匹配到的全部任务，已登记的任务直接跳过
func (s *Service) RegisterTask(ctx context.Context, req *model.RegisterTaskRequest) error {
	if req.Framework != model.FrameworkLMEH {
		return apperr.New(apperr.BadParams, "register is not supported for framework %q", req.Framework)
	}
	if err := s.tables.CreateTaskTable(ctx); err != nil {
		return err
	}
	names := s.library.MatchTasks(lmeh.SplitPatterns(req.Tasks))
	if len(names) == 0 {
		return apperr.New(apperr.BadParams, "no lmeh tasks match %q", req.Tasks)
	}
	dict, err := s.library.GetTaskDict(names)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for _, name := range names {
		task := dict[name]
		g.Go(func() error {
			return s.registerOne(gctx, task)
		})
	}
	return g.Wait()
}

func (s *Service) registerOne(ctx context.Context, task lmeh.Task) error {
	name := task.Name()
	checked, err := s.registry.Checked(ctx, name)
	if err != nil {
		return err
	}
	if checked {
		s.logger.Info("task already registered", zap.String("task", name))
		return nil
	}

	cfg := task.Config()
	table := model.DatasetTableName(cfg.DatasetPath, cfg.DatasetName)
	// 同一张表的并发物化合并为一次
	_, err, _ = s.flight.Do(table, func() (interface{}, error) {
		if s.isMaterialized(table) || s.tables.TableExists(ctx, table) {
			return nil, nil
		}
		s.logger.Info("loading dataset",
			zap.String("task", name),
			zap.String("dataset_path", cfg.DatasetPath),
			zap.String("dataset_name", cfg.DatasetName))
		ds, err := s.loader.Load(ctx, cfg.DatasetPath, cfg.DatasetName)
		if err != nil {
			return nil, apperr.Wrap(apperr.SQLError, err, "failed to load dataset %s", table)
		}
		if err := s.materializer.MaterializeTask(ctx, name, ds); err != nil {
			return nil, err
		}
		s.markMaterialized(table)
		s.logger.Info("dataset materialized", zap.String("table", table), zap.Int("rows", ds.NumRows()))
		return nil, nil
	})
	if err != nil {
		return err
	}

	if err := s.registry.Register(ctx, name, table); err != nil {
		return err
	}
	s.logger.Info("task registered", zap.String("task", name), zap.String("table", table))
	return nil
}

func (s *Service) isMaterialized(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.materialized[table]
	return ok
}

func (s *Service) markMaterialized(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materialized[table] = struct{}{}
}
