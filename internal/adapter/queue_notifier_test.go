//go:build unit

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"library-service/internal/core/model"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("enqueue without deadline")
	}
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type captureSender struct {
	got []model.Notification
	err error
}

func (c *captureSender) Notify(_ context.Context, n model.Notification) error {
	c.got = append(c.got, n)
	return c.err
}

type countingChecker struct {
	calls int
	n     int
	err   error
}

func (c *countingChecker) CheckOverdue(context.Context) (int, error) {
	c.calls++
	return c.n, c.err
}

func TestQueueNotifier_Enqueues(t *testing.T) {
	q := &fakeEnqueuer{}
	n := newQueueNotifier(q, time.Second, zap.NewNop())

	in := model.Notification{Event: model.EventBorrowingCreated, Text: "Dune borrowed", ChannelID: "chat-1"}
	require.NoError(t, n.Notify(context.Background(), in))
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TypeNotificationSend, q.tasks[0].Type())

	var p notificationPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &p))
	assert.Equal(t, notificationPayload{Event: in.Event, Text: in.Text, ChannelID: in.ChannelID}, p)
}

func TestQueueNotifier_EnqueueError(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("redis down")}
	n := newQueueNotifier(q, 0, nil)
	err := n.Notify(context.Background(), model.Notification{Event: model.EventPaymentCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment.completed")
}

func TestWorker_NotificationTaskDelivers(t *testing.T) {
	in := model.Notification{Event: model.EventOverdueReport, Text: "overdue", ChannelID: "chat-9"}
	task, err := NewNotificationTask(in)
	require.NoError(t, err)

	sender := &captureSender{}
	require.NoError(t, handleNotificationTask(sender, zap.NewNop())(context.Background(), task))
	assert.Equal(t, []model.Notification{in}, sender.got)

	sender.err = errors.New("telegram down")
	err = handleNotificationTask(sender, zap.NewNop())(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestWorker_RejectedNotificationSkipsRetry(t *testing.T) {
	task, err := NewNotificationTask(model.Notification{Event: model.EventBorrowingCreated, Text: "x", ChannelID: "missing"})
	require.NoError(t, err)

	sender := &captureSender{err: fmt.Errorf("telegram: %w: 400 Bad Request: chat not found", errPermanent)}
	err = handleNotificationTask(sender, zap.NewNop())(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, errPermanent)
}

func TestWorker_BadPayloadSkipsRetry(t *testing.T) {
	task := asynq.NewTask(TypeNotificationSend, []byte("{not json"))
	err := handleNotificationTask(&captureSender{}, zap.NewNop())(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestWorker_OverdueTask(t *testing.T) {
	checker := &countingChecker{n: 2}
	h := handleOverdueTask(checker, zap.NewNop())
	require.NoError(t, h(context.Background(), NewOverdueTask()))
	assert.Equal(t, 1, checker.calls)

	checker.err = errors.New("store down")
	assert.Error(t, h(context.Background(), NewOverdueTask()))
}
