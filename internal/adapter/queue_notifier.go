package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"library-service/internal/core"
	"library-service/internal/core/model"
)

const (
	TypeNotificationSend = "notification:send"
	TypeOverdueCheck     = "borrowing:overdue_check"
)

type notificationPayload struct {
	Event     string `json:"event"`
	Text      string `json:"text"`
	ChannelID string `json:"channel_id"`
}

func NewNotificationTask(n model.Notification) (*asynq.Task, error) {
	b, err := json.Marshal(notificationPayload{Event: n.Event, Text: n.Text, ChannelID: n.ChannelID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotificationSend, b, asynq.MaxRetry(5)), nil
}

func NewOverdueTask() *asynq.Task {
	return asynq.NewTask(TypeOverdueCheck, nil, asynq.MaxRetry(3))
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands notifications to the worker through Redis. Enqueueing
// is bounded by timeout so a slow Redis never stalls a borrowing request.
type QueueNotifier struct {
	client  enqueuer
	timeout time.Duration
	log     *zap.Logger
}

func NewQueueNotifier(client *asynq.Client, timeout time.Duration, log *zap.Logger) *QueueNotifier {
	return newQueueNotifier(client, timeout, log)
}

func newQueueNotifier(client enqueuer, timeout time.Duration, log *zap.Logger) *QueueNotifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QueueNotifier{client: client, timeout: timeout, log: log}
}

func (q *QueueNotifier) Notify(ctx context.Context, n model.Notification) error {
	task, err := NewNotificationTask(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", n.Event, err)
	}
	q.log.Debug("notification enqueued", zap.String("event", n.Event), zap.String("task_id", info.ID))
	return nil
}

// LogNotifier writes notifications to the log. It is used when no queue is
// configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (l *LogNotifier) Notify(_ context.Context, n model.Notification) error {
	l.log.Info("notification",
		zap.String("event", n.Event),
		zap.String("channel_id", n.ChannelID),
		zap.String("text", n.Text))
	return nil
}

type overdueChecker interface {
	CheckOverdue(ctx context.Context) (int, error)
}

// NewWorkerMux routes queued tasks: notifications go out through sender and
// the scheduled overdue check runs against checker.
func NewWorkerMux(sender core.Notifier, checker overdueChecker, log *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotificationSend, handleNotificationTask(sender, log))
	mux.HandleFunc(TypeOverdueCheck, handleOverdueTask(checker, log))
	return mux
}

func handleNotificationTask(sender core.Notifier, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p notificationPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			log.Error("invalid notification payload", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		err := sender.Notify(ctx, model.Notification{Event: p.Event, Text: p.Text, ChannelID: p.ChannelID})
		if errors.Is(err, errPermanent) {
			log.Error("notification rejected", zap.String("event", p.Event), zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		if err != nil {
			log.Warn("notification delivery failed", zap.String("event", p.Event), zap.Error(err))
			return err
		}
		return nil
	}
}

func handleOverdueTask(checker overdueChecker, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := checker.CheckOverdue(ctx)
		if err != nil {
			log.Error("overdue check failed", zap.Error(err))
			return err
		}
		log.Info("overdue check done", zap.Int("overdue", n))
		return nil
	}
}

// RegisterOverdueSchedule enqueues the overdue check on cronspec (for
// example "0 8 * * *").
func RegisterOverdueSchedule(s *asynq.Scheduler, cronspec string) (string, error) {
	return s.Register(cronspec, NewOverdueTask())
}
