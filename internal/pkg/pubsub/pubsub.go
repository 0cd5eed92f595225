package pubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/internal/model"
)

// ChannelPrefix + task id names the per-job notification channel.
const ChannelPrefix = "notifications_"

const (
	EventSource        = "document-intelligence/worker"
	EventTypeCompleted = "document.processing.completed"
	EventTypeFailed    = "document.processing.failed"
)

// Event announces that a job reached a terminal state. Delivery is
// best-effort: listeners that subscribe after publication miss it.
type Event struct {
	TaskID     string          `json:"task_id"`
	DocumentID string          `json:"document_id"`
	Status     string          `json:"status"`
	Analysis   *model.Analysis `json:"analysis,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func Channel(taskID string) string {
	return ChannelPrefix + taskID
}

// Encode wraps ev in a CloudEvents JSON envelope.
func Encode(ev *Event) ([]byte, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(EventSource)
	ce.SetSubject(ev.TaskID)
	ce.SetTime(time.Now().UTC())
	if ev.Status == model.DocumentStatusCompleted {
		ce.SetType(EventTypeCompleted)
	} else {
		ce.SetType(EventTypeFailed)
	}
	if err := ce.SetData(cloudevents.ApplicationJSON, ev); err != nil {
		return nil, err
	}
	return ce.MarshalJSON()
}

// Decode extracts the Event carried by a CloudEvents JSON envelope.
func Decode(data []byte) (*Event, error) {
	ce := cloudevents.NewEvent()
	if err := ce.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	var ev Event
	if err := ce.DataAs(&ev); err != nil {
		return nil, err
	}
	if ev.TaskID == "" {
		ev.TaskID = ce.Subject()
	}
	return &ev, nil
}

// SentPrefix + task id marks a task whose terminal event went out.
const SentPrefix = "notified:"

// DefaultSentTTL bounds how long a redelivered job is kept from announcing
// its outcome a second time.
const DefaultSentTTL = 24 * time.Hour

type Publisher struct {
	client  *redis.Client
	sentTTL time.Duration
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, sentTTL: DefaultSentTTL}
}

// Publish sends ev to the channel of its task. Each task announces at most
// one terminal event; later calls for the same task are dropped.
func (p *Publisher) Publish(ctx context.Context, ev *Event) error {
	data, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	key := SentPrefix + ev.TaskID
	first, err := p.client.SetNX(ctx, key, ev.Status, p.sentTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to mark event sent: %w", err)
	}
	if !first {
		return nil
	}

	if err := p.client.Publish(ctx, Channel(ev.TaskID), data).Err(); err != nil {
		// let a redelivery try again
		p.client.Del(ctx, key)
		return err
	}
	return nil
}

type Subscriber struct {
	client *redis.Client
	log    *zap.Logger
	active int64
}

func NewSubscriber(client *redis.Client, log *zap.Logger) *Subscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriber{client: client, log: log}
}

// Active reports subscriptions that have not been closed yet.
func (s *Subscriber) Active() int64 {
	return atomic.LoadInt64(&s.active)
}

// Subscribe attaches to the task channel and returns once Redis confirmed the
// subscription. The caller must Close the subscription on every exit path.
func (s *Subscriber) Subscribe(ctx context.Context, taskID string) (*Subscription, error) {
	ps := s.client.Subscribe(ctx, Channel(taskID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	atomic.AddInt64(&s.active, 1)

	sub := &Subscription{
		ps:     ps,
		events: make(chan *Event, 1),
		done:   make(chan struct{}),
		owner:  s,
	}
	go sub.run(ps.Channel(), s.log.With(zap.String("task_id", taskID)))
	return sub, nil
}

type Subscription struct {
	ps     *redis.PubSub
	events chan *Event
	done   chan struct{}
	once   sync.Once
	owner  *Subscriber
}

// Events yields decoded events. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

func (s *Subscription) run(ch <-chan *redis.Message, log *zap.Logger) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				log.Warn("dropping undecodable notification", zap.Error(err))
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// Close unsubscribes and tears down the connection. Safe to call twice.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		atomic.AddInt64(&s.owner.active, -1)
	})
	return err
}
