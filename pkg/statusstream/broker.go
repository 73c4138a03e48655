package statusstream

import "sync"

// Subscriber is a channel that receives task log records
type Subscriber chan *Record

// Broker fans appended task log lines out to per-task subscribers.
type Broker struct {
	subscribers map[string]map[Subscriber]bool
	mu          sync.RWMutex
	recordCh    chan *Record
	stopCh      chan struct{}
}

// NewBroker creates a new status broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[Subscriber]bool),
		recordCh:    make(chan *Record, 100), // Buffer up to 100 records
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers interest in one task's log lines
func (b *Broker) Subscribe(taskID string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	if b.subscribers[taskID] == nil {
		b.subscribers[taskID] = make(map[Subscriber]bool)
	}
	b.subscribers[taskID][sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(taskID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[taskID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, taskID)
		}
	}
	close(sub)
}

// Publish delivers a record to the task's subscribers
func (b *Broker) Publish(rec *Record) {
	select {
	case b.recordCh <- rec:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case rec := <-b.recordCh:
			b.broadcast(rec)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(rec *Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[rec.TaskID] {
		select {
		case sub <- rec:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of subscribers for a task
func (b *Broker) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[taskID])
}
