// Package ingest consumes playback activity published on NATS and records it
// through the same path as the HTTP API.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// DefaultSubject is the subject playback events are published on.
	DefaultSubject = "activity.playback"
	// DefaultQueue load-balances messages across service instances.
	DefaultQueue = "streamquest-playback"

	outcomeRecorded  = "recorded"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"
	outcomeFailed    = "failed"
)

var (
	errMissingConnection = errors.New("ingest: nats connection is required")
	errMissingRecorder   = errors.New("ingest: activity recorder is required")
)

// PlaybackEvent is the JSON payload of a playback message.
type PlaybackEvent struct {
	EventID         string `json:"event_id"`
	UserID          string `json:"user_id"`
	MediaID         string `json:"media_id"`
	ActivityType    string `json:"activity_type"`
	DurationSeconds int64  `json:"duration_seconds"`
	OccurredAt      string `json:"occurred_at"`
}

// Recorder stores a validated activity event.
type Recorder interface {
	Record(ctx context.Context, event activity.Event) (activity.Result, error)
}

// OutcomeObserver counts consumed messages by outcome.
type OutcomeObserver interface {
	ObserveIngest(outcome string)
}

// ConsumerConfig describes the consumer dependencies.
type ConsumerConfig struct {
	Conn     *nats.Conn
	Subject  string
	Queue    string
	Recorder Recorder
	Outcomes OutcomeObserver
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Consumer is a queue subscription on the playback subject.
type Consumer struct {
	conn     *nats.Conn
	subject  string
	queue    string
	recorder Recorder
	outcomes OutcomeObserver
	timeout  time.Duration
	logger   *zap.Logger
}

// NewConsumer validates the configuration.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Conn == nil {
		return nil, errMissingConnection
	}
	consumer, err := newConsumer(cfg)
	if err != nil {
		return nil, err
	}
	consumer.conn = cfg.Conn
	return consumer, nil
}

func newConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Recorder == nil {
		return nil, errMissingRecorder
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = DefaultSubject
	}
	queue := strings.TrimSpace(cfg.Queue)
	if queue == "" {
		queue = DefaultQueue
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		subject:  subject,
		queue:    queue,
		recorder: cfg.Recorder,
		outcomes: cfg.Outcomes,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Run subscribes and blocks until ctx is done, then drains the subscription.
func (c *Consumer) Run(ctx context.Context) error {
	subscription, err := c.conn.QueueSubscribe(c.subject, c.queue, func(message *nats.Msg) {
		c.handleMessage(ctx, message)
	})
	if err != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", c.subject, err)
	}
	c.logger.Info("playback consumer started", zap.String("subject", c.subject), zap.String("queue", c.queue))

	<-ctx.Done()
	if err := subscription.Drain(); err != nil {
		c.logger.Warn("playback consumer drain failed", zap.Error(err))
	}
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, message *nats.Msg) string {
	outcome := c.process(ctx, message.Data)
	if c.outcomes != nil {
		c.outcomes.ObserveIngest(outcome)
	}
	return outcome
}

func (c *Consumer) process(ctx context.Context, data []byte) string {
	var payload PlaybackEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("playback message is not valid json", zap.Error(err))
		return outcomeInvalid
	}
	event, err := payload.toEvent()
	if err != nil {
		c.logger.Warn("playback message rejected", zap.String("event_id", payload.EventID), zap.Error(err))
		return outcomeInvalid
	}

	recordCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	result, err := c.recorder.Record(recordCtx, event)
	if err != nil {
		c.logger.Error("playback message not recorded", zap.String("event_id", payload.EventID), zap.Error(err))
		return outcomeFailed
	}
	if result.Duplicate {
		return outcomeDuplicate
	}
	return outcomeRecorded
}

func (p PlaybackEvent) toEvent() (activity.Event, error) {
	userID, err := domain.NewUserID(p.UserID)
	if err != nil {
		return activity.Event{}, err
	}
	var occurredAt time.Time
	if raw := strings.TrimSpace(p.OccurredAt); raw != "" {
		occurredAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return activity.Event{}, fmt.Errorf("ingest: invalid occurred_at: %w", err)
		}
	}
	activityType := activity.Type(strings.ToLower(strings.TrimSpace(p.ActivityType)))
	if activityType == "" {
		activityType = activity.TypeWatch
	}
	return activity.NewEvent(p.EventID, userID, p.MediaID, activityType, p.DurationSeconds, occurredAt)
}
