package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
)

const (
	// RealtimeEventLevelUp is published when an XP award crosses a level boundary.
	RealtimeEventLevelUp = "level-up"
	// RealtimeEventMediaUnlocked is published when media joins the user's unlocked set.
	RealtimeEventMediaUnlocked = "media-unlocked"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "streamquest-backend"
	realtimeBufferSize         = 16
)

// RealtimeMessage is one event addressed to a single user.
type RealtimeMessage struct {
	UserID    string
	EventType string
	Level     int
	XP        int64
	MediaID   string
	Timestamp time.Time
}

// RealtimeDispatcher fans messages out to the open streams of each user.
// Slow subscribers lose messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBufferSize,
		clock:       time.Now,
	}
}

// Subscribe opens a stream for the user. The stream is released when ctx ends
// or the returned cleanup runs, whichever happens first.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = d.clock().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[message.UserID] {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishAward emits a level-up event when the award crossed a level boundary.
func (d *RealtimeDispatcher) PublishAward(award progression.Award) {
	if !award.LeveledUp() {
		return
	}
	d.Publish(RealtimeMessage{
		UserID:    award.UserID.String(),
		EventType: RealtimeEventLevelUp,
		Level:     award.Level,
		XP:        award.XP,
	})
}

// PublishDecision emits a media-unlocked event for a newly committed unlock.
func (d *RealtimeDispatcher) PublishDecision(userID domain.UserID, mediaID domain.MediaID, decision unlocks.Decision) {
	if !decision.NewlyUnlocked {
		return
	}
	d.Publish(RealtimeMessage{
		UserID:    userID.String(),
		EventType: RealtimeEventMediaUnlocked,
		MediaID:   mediaID.String(),
	})
}

// ActivityRecorded implements activity.Observer.
func (d *RealtimeDispatcher) ActivityRecorded(result activity.Result) {
	if result.Duplicate || result.Award == nil {
		return
	}
	d.PublishAward(*result.Award)
}

func (d *RealtimeDispatcher) subscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
