package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/subramanya1997/agentic-trust-platform/internal/audit"
	"github.com/subramanya1997/agentic-trust-platform/internal/config"
	"github.com/subramanya1997/agentic-trust-platform/internal/identity"
	"github.com/subramanya1997/agentic-trust-platform/internal/infra/queue"
	"github.com/subramanya1997/agentic-trust-platform/internal/worker/handlers"
	"github.com/subramanya1997/agentic-trust-platform/internal/worker/tasks"
)

type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

func NewServer(
	redisCfg config.RedisConfig,
	workerCfg config.WorkerConfig,
	db *gorm.DB,
	auditService *audit.Service,
	syncEngine *identity.SyncEngine,
	queueClient queue.Client,
	logger *zap.Logger,
) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", redisCfg.Host, redisCfg.Port),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	}

	concurrency := workerCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"audit":   3, // 审计同步优先
			"default": 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("任务执行失败",
				zap.String("type", task.Type()),
				zap.Error(err),
			)
		}),
	})

	mux := asynq.NewServeMux()

	// 注册审计处理器
	auditHandler := handlers.NewAuditHandler(db, auditService, syncEngine, queueClient, logger)
	mux.HandleFunc(tasks.TypeSyncAuditEvents, auditHandler.HandleSyncEvents)
	mux.HandleFunc(tasks.TypeSyncAllAudit, auditHandler.HandleSyncAll)

	// 周期任务：定时为所有组织派发审计同步
	intervalMin := workerCfg.AuditSyncIntervalMin
	if intervalMin <= 0 {
		intervalMin = 15
	}
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		EnqueueErrorHandler: func(task *asynq.Task, opts []asynq.Option, err error) {
			logger.Error("周期任务入队失败",
				zap.String("type", task.Type()),
				zap.Error(err),
			)
		},
	})
	if _, err := scheduler.Register(
		fmt.Sprintf("@every %dm", intervalMin),
		asynq.NewTask(tasks.TypeSyncAllAudit, nil),
	); err != nil {
		logger.Error("注册周期任务失败", zap.Error(err))
	}

	return &Server{
		server:    srv,
		scheduler: scheduler,
		mux:       mux,
		logger:    logger,
	}
}

// Start 非阻塞启动 worker 与调度器
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	return s.scheduler.Start()
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
