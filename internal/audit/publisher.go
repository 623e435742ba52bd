package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"webgrave/internal/bucketing"
	"webgrave/internal/models"
	"webgrave/internal/util"
)

const (
	insertEventsQuery = `INSERT INTO security_events
		(event_id, event_type, account_id, email, ip_address, user_agent, details, event_bucket, occurred_at)`

	recentEventsQuery = `SELECT toString(event_id), event_type, account_id, email, ip_address, user_agent,
		details, event_bucket, occurred_at
		FROM security_events
		WHERE account_id = ?
		ORDER BY occurred_at DESC
		LIMIT ?`

	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	produceTimeout       = 3 * time.Second
)

// Producer is satisfied by *client.KafkaProducer.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Store is satisfied by *client.ClickHouseClient.
type Store interface {
	BatchInsert(ctx context.Context, query string, rows [][]any) error
	QueryRows(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

// Publisher streams security events to Kafka and buffers them for batched
// inserts into ClickHouse. Either sink may be nil.
type Publisher struct {
	producer Producer
	store    Store
	buckets  *bucketing.BucketingManager
	topic    string

	batchSize int
	queue     chan []any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// mu orders enqueues against Close: once closed is set, the flusher's
	// final drain has every row it will ever get.
	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func NewPublisher(producer Producer, store Store, buckets *bucketing.BucketingManager, topic string, opts ...Option) *Publisher {
	p := &Publisher{
		producer:  producer,
		store:     store,
		buckets:   buckets,
		topic:     topic,
		batchSize: defaultBatchSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan []any, p.batchSize*10)

	if store != nil {
		p.wg.Add(1)
		go p.flushLoop(defaultFlushInterval)
	}
	return p
}

// Publish never blocks on ClickHouse. A full buffer drops the row with a
// warning; the Kafka copy is still written.
func (p *Publisher) Publish(ctx context.Context, event *models.SecurityEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	event.EventBucket = p.buckets.GetEventBucket(bucketKey(event))

	if p.store != nil {
		row, err := eventRow(event)
		if err != nil {
			return err
		}
		p.enqueue(row, event.EventType)
	}

	if p.producer == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}
	produceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), produceTimeout)
	defer cancel()
	return p.producer.ProduceMessage(produceCtx, p.topic, []byte(bucketKey(event)), payload, map[string]string{
		"event_type":  string(event.EventType),
		"date_bucket": p.buckets.GetDateBucket(event.OccurredAt),
	})
}

func (p *Publisher) enqueue(row []any, eventType models.SecurityEventType) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		util.Warn("Publisher closed, dropping audit row", util.String("event_type", string(eventType)))
		return
	}
	select {
	case p.queue <- row:
	default:
		util.Warn("Security event buffer full, dropping audit row",
			util.String("event_type", string(eventType)))
	}
}

// RecentEvents returns the newest events for an account, newest first.
func (p *Publisher) RecentEvents(ctx context.Context, accountID string, limit int) ([]models.SecurityEvent, error) {
	if p.store == nil {
		return []models.SecurityEvent{}, nil
	}
	rows, err := p.store.QueryRows(ctx, recentEventsQuery, accountID, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	events := []models.SecurityEvent{}
	for rows.Next() {
		var (
			e         models.SecurityEvent
			eventType string
			bucket    uint16
		)
		if err := rows.Scan(&e.EventID, &eventType, &e.AccountID, &e.Email, &e.IPAddress,
			&e.UserAgent, &e.Details, &bucket, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		e.EventType = models.SecurityEventType(eventType)
		e.EventBucket = int(bucket)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close stops the flusher after writing whatever is still buffered.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
	})
	p.wg.Wait()
	return nil
}

func (p *Publisher) flushLoop(interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([][]any, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.store.BatchInsert(ctx, insertEventsQuery, batch); err != nil {
			util.Error("Failed to insert security events",
				util.Int("count", len(batch)),
				util.ErrorField(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-p.queue:
			batch = append(batch, row)
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-p.done:
			for {
				select {
				case row := <-p.queue:
					batch = append(batch, row)
				default:
					flush()
					return
				}
			}
		}
	}
}

// bucketKey partitions by account, falling back to the email for events
// about unknown accounts.
func bucketKey(e *models.SecurityEvent) string {
	if e.AccountID != "" {
		return e.AccountID
	}
	return e.Email
}

func eventRow(e *models.SecurityEvent) ([]any, error) {
	id, err := uuid.Parse(e.EventID)
	if err != nil {
		return nil, fmt.Errorf("invalid event id: %w", err)
	}
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	return []any{
		id,
		string(e.EventType),
		e.AccountID,
		e.Email,
		e.IPAddress,
		e.UserAgent,
		details,
		uint16(e.EventBucket),
		e.OccurredAt,
	}, nil
}
