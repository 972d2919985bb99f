package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/subramanya1997/agentic-trust-platform/internal/config"
	"github.com/subramanya1997/agentic-trust-platform/internal/worker/tasks"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueSyncAuditEvents(organizationID string) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueSyncAuditEvents(organizationID string) error {
	payload, err := json.Marshal(tasks.SyncAuditEventsPayload{OrganizationID: organizationID})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeSyncAuditEvents, payload)

	// 同一组织的重复任务在短窗口内合并，避免并发拉取同一条 feed
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("audit"),
		asynq.TaskID("audit:sync:"+organizationID),
		asynq.Retention(time.Minute),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil // 已有同组织任务在队列中
		}
		return fmt.Errorf("enqueue task failed: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
