package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todos/domain"
)

const (
	EventTodoCreated = "todo-created"
	EventTodoUpdated = "todo-updated"
	EventTodoDeleted = "todo-deleted"
)

// Event describes a change applied to the collection.
type Event struct {
	ID       string          `json:"id"`
	EntityID string          `json:"entityId"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Time     int64           `json:"time"`
}

// EventSink receives change events.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// QueuePublisher sends events to an Azure Storage queue.
type QueuePublisher struct {
	queue *azqueue.QueueClient
}

// NewQueuePublisher creates a publisher for the named queue.
func NewQueuePublisher(connStr, queueName string) (*QueuePublisher, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &QueuePublisher{queue: q}, nil
}

// Publish enqueues ev as a JSON message.
func (p *QueuePublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Publishing emits an Event after every successful write of the wrapped
// collection. Publish failures are logged and never fail the write.
type Publishing struct {
	base   Collection
	sink   EventSink
	logger *log.Logger
	now    func() time.Time
}

// WithEvents returns a Decorator installing a Publishing wrapper.
func WithEvents(sink EventSink, logger *log.Logger) Decorator {
	return func(c Collection) Collection {
		return &Publishing{base: c, sink: sink, logger: logger, now: time.Now}
	}
}

func (p *Publishing) Find(ctx context.Context, q Query) (FindResult, error) {
	return p.base.Find(ctx, q)
}

func (p *Publishing) Create(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	res, err := p.base.Create(ctx, id, todo)
	if err != nil {
		return res, err
	}
	todo.ID = id
	p.publish(ctx, EventTodoCreated, id, todo)
	return res, nil
}

func (p *Publishing) Update(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	res, err := p.base.Update(ctx, id, todo)
	if err != nil {
		return res, err
	}
	todo.ID = id
	p.publish(ctx, EventTodoUpdated, id, todo)
	return res, nil
}

func (p *Publishing) Delete(ctx context.Context, id string) (domain.DocumentResult, error) {
	res, err := p.base.Delete(ctx, id)
	if err != nil {
		return res, err
	}
	p.publish(ctx, EventTodoDeleted, id, nil)
	return res, nil
}

func (p *Publishing) publish(ctx context.Context, typ, id string, payload any) {
	ev := Event{ID: uuid.NewString(), EntityID: id, Type: typ, Time: p.now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			p.logger.WithError(err).WithField("todo_id", id).Error("encode todo event")
			return
		}
		ev.Data = data
	}
	if err := p.sink.Publish(ctx, ev); err != nil {
		p.logger.WithFields(log.Fields{
			"event_type": typ,
			"todo_id":    id,
		}).WithError(err).Warn("publish todo event failed")
		return
	}
	p.logger.WithFields(log.Fields{"event_type": typ, "todo_id": id}).Debug("todo event published")
}
