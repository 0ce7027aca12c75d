// Package realtime delivers fire-and-forget events to live per-channel subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

const (
	EventNewNotification   = "new_notification"
	EventVisibilityUpdate  = "visibility_update"
	EventApplicationUpdate = "application_decided"
	EventHeartbeat         = "heartbeat"

	userChannelPrefix = "user_"
	defaultBuffer     = 16
)

var errInvalidMessage = errors.New("realtime: channel and event are required")

// Publisher is the outbound event port the services depend on.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// ChannelForUser returns the logical channel addressing a single user.
func ChannelForUser(userID string) string {
	return userChannelPrefix + userID
}

// Message is one event addressed to a channel.
type Message struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage encodes payload into a Message.
func NewMessage(channel, event string, payload any, now time.Time) (Message, error) {
	if channel == "" || event == "" {
		return Message{}, errInvalidMessage
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		raw = encoded
	}
	return Message{Channel: channel, Event: event, Payload: raw, Timestamp: now.UTC()}, nil
}

// Dispatcher fans messages out to in-process subscribers. Slow subscribers drop messages.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBuffer,
		clock:       time.Now,
	}
}

// Subscribe registers a subscriber on channel until ctx is done or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, channel string) (<-chan Message, func()) {
	if channel == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(channel, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(channel, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish implements Publisher for in-process delivery.
func (d *Dispatcher) Publish(_ context.Context, channel, event string, payload any) error {
	message, err := NewMessage(channel, event, payload, d.clock())
	if err != nil {
		return err
	}
	d.Deliver(message)
	return nil
}

// Deliver hands message to every current subscriber of its channel without blocking.
func (d *Dispatcher) Deliver(message Message) {
	if message.Channel == "" || message.Event == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Channel]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are attached to channel.
func (d *Dispatcher) SubscriberCount(channel string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[channel])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(channel string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[channel]; !ok {
		d.subscribers[channel] = make(map[int64]*subscriber)
	}
	d.subscribers[channel][sub.id] = sub
}

func (d *Dispatcher) unregister(channel string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[channel]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, channel)
		}
	}
	d.mu.Unlock()
}
