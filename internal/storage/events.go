package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"sync"

	"github.com/lib/pq"
)

// EventType identifies the kind of database event being published.
// Only the IBAN authentication method uses events today (spec.md §6);
// the type is still carried as a field so a future method can reuse
// the bus without changing its shape.
type EventType uint16

// AuthIBANTransfer is emitted by the wire-transfer ingester whenever a
// credited transfer's subject yields a challenge code (spec.md §4.3).
const AuthIBANTransfer EventType = 1

// EventSpec is the typed event header of spec.md §6. It carries the
// type, code and debit IBAN hash; the header's size and reserved
// fields are not represented.
type EventSpec struct {
	Type          EventType
	Code          uint64
	DebitIBANHash [32]byte
}

// channelName derives a Postgres LISTEN/NOTIFY channel name from the
// event spec so that NOTIFY only reaches listeners subscribed to the
// exact (type, code, debit IBAN hash) triple.
func (s EventSpec) channelName() string {
	var buf [2 + 8 + 32]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(s.Type))
	binary.BigEndian.PutUint64(buf[2:10], s.Code)
	copy(buf[10:], s.DebitIBANHash[:])
	sum := sha256.Sum256(buf[:])
	return "anastasis_evt_" + hex.EncodeToString(sum[:16])
}

// EventCallback is invoked when a matching notification arrives. extra
// carries the NOTIFY payload (e.g. the transferred amount as a string).
type EventCallback func(extra string)

// EventHandle identifies one active subscription, returned by Listen
// and accepted by Cancel.
type EventHandle uint64

type subscription struct {
	spec   EventSpec
	cancel context.CancelFunc
	cb     EventCallback
}

// EventBus is the pub/sub layer behind event_listen/event_listen_cancel/
// event_notify (spec.md §4.1). Notifications are delivered only to
// listeners registered at notify time; there is no persistence, so
// callers that can miss a race window (IBAN plugin) must additionally
// poll on startup (spec.md §5).
type EventBus struct {
	listener *pq.Listener
	logger   *log.Logger

	mu      sync.Mutex
	nextID  EventHandle
	subs    map[EventHandle]*subscription
	byChan  map[string]map[EventHandle]struct{}
	closed  bool
}

func NewEventBus(listener *pq.Listener, logger *log.Logger) *EventBus {
	b := &EventBus{
		listener: listener,
		logger:   logger,
		subs:     make(map[EventHandle]*subscription),
		byChan:   make(map[string]map[EventHandle]struct{}),
	}
	go b.dispatchLoop()
	return b
}

func (b *EventBus) dispatchLoop() {
	for n := range b.listener.Notify {
		if n == nil {
			continue
		}
		b.mu.Lock()
		handles := b.byChan[n.Channel]
		var cbs []EventCallback
		for h := range handles {
			if sub, ok := b.subs[h]; ok {
				cbs = append(cbs, sub.cb)
			}
		}
		b.mu.Unlock()

		for _, cb := range cbs {
			cb(n.Extra)
		}
	}
}

// Listen subscribes cb to notifications matching spec. There is no
// timeout parameter: when ctx is done the subscription is cancelled
// automatically and cb is never called again; the caller reacts to its
// own context deadline rather than to a callback (the HTTP surface
// resumes the parked connection itself).
func (b *EventBus) Listen(ctx context.Context, spec EventSpec, cb EventCallback) (EventHandle, error) {
	channel := spec.channelName()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, fmt.Errorf("storage: event bus is closed")
	}
	b.nextID++
	handle := b.nextID
	subCtx, cancel := context.WithCancel(ctx)
	b.subs[handle] = &subscription{spec: spec, cancel: cancel, cb: cb}
	if b.byChan[channel] == nil {
		b.byChan[channel] = make(map[EventHandle]struct{})
		b.mu.Unlock()
		if err := b.listener.Listen(channel); err != nil {
			b.mu.Lock()
			delete(b.subs, handle)
			b.mu.Unlock()
			cancel()
			return 0, fmt.Errorf("storage: LISTEN %s: %w", channel, err)
		}
		b.mu.Lock()
	}
	b.byChan[channel][handle] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-subCtx.Done()
		b.Cancel(handle)
	}()

	return handle, nil
}

// Cancel tears down a subscription; safe to call more than once.
func (b *EventBus) Cancel(handle EventHandle) {
	b.mu.Lock()
	sub, ok := b.subs[handle]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, handle)
	channel := sub.spec.channelName()
	if set, ok := b.byChan[channel]; ok {
		delete(set, handle)
		if len(set) == 0 {
			delete(b.byChan, channel)
			b.mu.Unlock()
			if err := b.listener.Unlisten(channel); err != nil {
				b.logger.Printf("UNLISTEN %s: %v", channel, err)
			}
			sub.cancel()
			return
		}
	}
	b.mu.Unlock()
	sub.cancel()
}

// Close shuts down the event bus and its underlying listener
// connection.
func (b *EventBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.listener.Close()
}

// Notify publishes spec with the given extra payload to every listener
// subscribed at this moment, via the same *sql.Tx a composite
// operation is already running in (so the notification only becomes
// visible once the transaction commits).
func Notify(ctx context.Context, tx *sql.Tx, spec EventSpec, extra string) error {
	channel := spec.channelName()
	_, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, extra)
	if err != nil {
		return fmt.Errorf("storage: NOTIFY %s: %w", channel, err)
	}
	return nil
}
