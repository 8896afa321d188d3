package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/ashwinyue/ml-testbench/internal/activities"
	"github.com/ashwinyue/ml-testbench/internal/mongodb"
	"github.com/ashwinyue/ml-testbench/internal/repository"
	"github.com/ashwinyue/ml-testbench/internal/service/generator"
	"github.com/ashwinyue/ml-testbench/internal/service/identity"
	"github.com/ashwinyue/ml-testbench/internal/service/lmeh"
	"github.com/ashwinyue/ml-testbench/internal/service/reconstruct"
	"github.com/ashwinyue/ml-testbench/internal/service/register"
	"github.com/ashwinyue/ml-testbench/internal/service/scorer"
	"github.com/ashwinyue/ml-testbench/internal/service/signature"
	"github.com/ashwinyue/ml-testbench/internal/service/taxonomy"
	"github.com/ashwinyue/ml-testbench/internal/workflows"
)

// 调度 id
const (
	LookupTasksScheduleID   = "lookup-tasks"
	SummaryLookupScheduleID = "summary-lookup"
)

// datasetClientTimeout 数据集下载的 HTTP 超时
const datasetClientTimeout = 60 * time.Second

// RunWorker 装配当前角色的 activity 与工作流，创建调度后运行 worker 直到收到中断信号
func (a *App) RunWorker(ctx context.Context) error {
	tc, err := DialTemporal(a.Config.Temporal, a.Logger)
	if err != nil {
		return err
	}
	defer tc.Close()

	w := worker.New(tc, a.Config.Temporal.TaskQueue, WorkerOptions(a.Config.Temporal))
	schedules, err := a.register(ctx, w)
	if err != nil {
		return err
	}
	for _, s := range schedules {
		if err := EnsureSchedule(ctx, tc.ScheduleClient(), s, a.Logger); err != nil {
			return err
		}
	}

	a.Logger.Info("worker starting",
		zap.String("task_queue", a.Config.Temporal.TaskQueue),
		zap.String("namespace", a.Config.Temporal.Namespace))
	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("unable to start the worker: %w", err)
	}
	return nil
}

// register 按角色注册 activity 与工作流，返回需要创建的调度
func (a *App) register(ctx context.Context, w worker.Worker) ([]Schedule, error) {
	wfCfg := workflows.Config{
		TaskQueue:       a.Config.Temporal.TaskQueue,
		ManagerWorkflow: a.Config.Temporal.ManagerResultAnalyzer.WorkflowName,
		ManagerQueue:    a.Config.Temporal.ManagerResultAnalyzer.TaskQueue,
		MaxChildStarts:  a.Config.Temporal.MaxChildStarts,
	}

	switch a.Role {
	case RoleSampler:
		deps, err := a.samplerDeps(ctx)
		if err != nil {
			return nil, err
		}
		activities.New(deps).RegisterSampler(w)
		workflows.New(wfCfg).RegisterSampler(w)
		return nil, nil

	case RoleEvaluator:
		deps, err := a.evaluatorDeps(ctx)
		if err != nil {
			return nil, err
		}
		activities.New(deps).RegisterEvaluator(w)
		workflows.New(wfCfg).RegisterEvaluator(w)
		return []Schedule{{
			ID:        LookupTasksScheduleID,
			Every:     a.Config.Temporal.Schedules.LookupTasks,
			Workflow:  workflows.LookupTasksName,
			TaskQueue: a.Config.Temporal.TaskQueue,
		}}, nil

	case RoleSummarizer:
		deps, names, err := a.summarizerDeps(ctx)
		if err != nil {
			return nil, err
		}
		wfCfg.Taxonomies = names
		activities.New(deps).RegisterSummarizer(w)
		workflows.New(wfCfg).RegisterSummarizer(w)
		return []Schedule{{
			ID:        SummaryLookupScheduleID,
			Every:     a.Config.Temporal.Schedules.SummaryLookup,
			Workflow:  workflows.SummaryLookupName,
			TaskQueue: a.Config.Temporal.TaskQueue,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown worker role %q", a.Role)
	}
}

// ========== 依赖装配 ==========

func (a *App) samplerDeps(ctx context.Context) (activities.Deps, error) {
	mc, err := a.Mongo(ctx)
	if err != nil {
		return activities.Deps{}, err
	}
	db, err := a.Postgres()
	if err != nil {
		return activities.Deps{}, err
	}
	timeouts, err := generator.NewTimeoutHandler(a.Config.Timeout)
	if err != nil {
		return activities.Deps{}, err
	}

	library := lmeh.NewRegistry()
	repos := repository.NewRepositories(db.DB)
	tasks := mongodb.NewTaskRepository(mc)
	loader := register.NewHFLoader(a.Config.Datasets, &http.Client{Timeout: datasetClientTimeout})

	return activities.Deps{
		Registrar: register.NewService(library, repos.Registry, repos.Dataset, repos, loader,
			a.Config.Temporal.MaxWorkers, a.Logger),
		Sampler: generator.NewService(library, repos.Registry, repos.Dataset, tasks, timeouts, a.Logger),
		Logger:  a.Logger,
	}, nil
}

func (a *App) evaluatorDeps(ctx context.Context) (activities.Deps, error) {
	mc, err := a.Mongo(ctx)
	if err != nil {
		return activities.Deps{}, err
	}
	db, err := a.Postgres()
	if err != nil {
		return activities.Deps{}, err
	}

	library := lmeh.NewRegistry()
	repos := repository.NewRepositories(db.DB)
	tasks := mongodb.NewTaskRepository(mc)
	results := mongodb.NewResultRepository(mc)

	return activities.Deps{
		Tasks:     tasks,
		Suppliers: mongodb.NewSupplierRepository(mc),
		Scorer: scorer.NewService(tasks, reconstruct.NewService(tasks, a.Logger), library,
			repos.Registry, repos.Dataset, results, a.Logger),
		Signatures: signature.NewService(tasks, tasks, results, "", a.Logger),
		Logger:     a.Logger,
	}, nil
}

func (a *App) summarizerDeps(ctx context.Context) (activities.Deps, []string, error) {
	mc, err := a.Mongo(ctx)
	if err != nil {
		return activities.Deps{}, nil, err
	}
	taxonomies, err := taxonomy.LoadDir(a.Config.TaxonomiesPath, a.Logger)
	if err != nil {
		return activities.Deps{}, nil, err
	}

	buffers := mongodb.NewBufferRepository(mc)
	summaries := mongodb.NewSummaryRepository(mc)
	tax := taxonomy.NewService(taxonomies, buffers, summaries, a.Logger)
	a.Logger.Info("taxonomies loaded", zap.Strings("names", tax.Names()))

	return activities.Deps{
		Suppliers: mongodb.NewSupplierRepository(mc),
		Taxonomy:  tax,
		Identity:  identity.NewService(buffers, summaries, a.Logger),
		Logger:    a.Logger,
	}, tax.Names(), nil
}
