// Package notify publishes follow-up tasks to the operations stream.
package notify

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nextgenfiber/fieldbill/internal/config"
)

// TaskStream is the Redis stream consumed by the field-ops task worker.
const TaskStream = "fieldbill:tasks"

// Task is a correction request raised when a production line is rejected.
type Task struct {
	LineID     string
	ReasonCode string
	Details    string
	AssignTo   string
}

// Publisher delivers tasks to the notification channel.
type Publisher interface {
	PublishTask(ctx context.Context, task Task) (string, error)
}

type streamPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

type noopPublisher struct {
	log *zap.Logger
}

// NewPublisher returns a Redis stream publisher, or a logging no-op when no
// Redis address is configured.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		log.Named("notify").Info("redis address not configured, task publishing disabled")
		return &noopPublisher{log: log.Named("notify")}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return &streamPublisher{client: client, log: log.Named("notify")}
}

func (p *streamPublisher) PublishTask(ctx context.Context, task Task) (string, error) {
	taskID := uuid.NewString()
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: TaskStream,
		Values: map[string]any{
			"task_id":     taskID,
			"line_id":     task.LineID,
			"reason_code": task.ReasonCode,
			"details":     task.Details,
			"assign_to":   task.AssignTo,
		},
	}).Err()
	if err != nil {
		p.log.Error("task publish failed",
			zap.String("line_id", task.LineID),
			zap.Error(err),
		)
		return "", err
	}
	return taskID, nil
}

func (p *noopPublisher) PublishTask(ctx context.Context, task Task) (string, error) {
	p.log.Debug("task dropped, publisher disabled",
		zap.String("line_id", task.LineID),
		zap.String("reason_code", task.ReasonCode),
	)
	return "", nil
}

// Module provides the task publisher.
var Module = fx.Module("notify",
	fx.Provide(NewPublisher),
)
