package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// subscriberBuffer is how many changes a subscriber may lag behind before it
// is disconnected.
const subscriberBuffer = 64

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("realtime hub closed")

type subscriber struct {
	room   string
	ch     chan types.Change
	closed bool
}

// Realtime wraps a Store and delivers every successful insert or delete to
// the subscribers of the row's room. A subscriber that falls too far behind is
// disconnected; it is expected to subscribe again and reload.
type Realtime struct {
	Store

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewRealtime wraps s.
func NewRealtime(s Store) *Realtime {
	return &Realtime{Store: s, subs: make(map[*subscriber]struct{})}
}

// InsertBlow stores ev and publishes it.
func (r *Realtime) InsertBlow(ctx context.Context, ev *types.BlowEvent) error {
	if err := r.Store.InsertBlow(ctx, ev); err != nil {
		return err
	}
	blow := *ev
	r.publish(types.Change{Type: types.ChangeBlow, Room: ev.Room, Blow: &blow})
	return nil
}

// InsertEntry stores e and publishes it.
func (r *Realtime) InsertEntry(ctx context.Context, e *types.GuestbookEntry) error {
	if err := r.Store.InsertEntry(ctx, e); err != nil {
		return err
	}
	entry := *e
	r.publish(types.Change{Type: types.ChangeGuestbook, Room: e.Room, Entry: &entry})
	return nil
}

// InsertMessage stores msg and publishes it.
func (r *Realtime) InsertMessage(ctx context.Context, msg *types.Message) error {
	if err := r.Store.InsertMessage(ctx, msg); err != nil {
		return err
	}
	posted := *msg
	r.publish(types.Change{Type: types.ChangeMessage, Room: msg.Room, Message: &posted})
	return nil
}

// DeleteMessage removes the message and publishes its removal.
func (r *Realtime) DeleteMessage(ctx context.Context, room, id string) error {
	if err := r.Store.DeleteMessage(ctx, room, id); err != nil {
		return err
	}
	r.publish(types.Change{Type: types.ChangeMessageDeleted, Room: room, Message: &types.Message{ID: id, Room: room}})
	return nil
}

// Subscribe returns a channel of changes to room. The channel is closed
// when ctx is cancelled, the subscriber falls behind, or the hub closes.
func (r *Realtime) Subscribe(ctx context.Context, room string) (<-chan types.Change, error) {
	sub := &subscriber{room: room, ch: make(chan types.Change, subscriberBuffer)}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrHubClosed
	}
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.removeLocked(sub)
		r.mu.Unlock()
	}()

	return sub.ch, nil
}

// SubscribeBlows returns a channel of blow events inserted into room.
func (r *Realtime) SubscribeBlows(ctx context.Context, room string) (<-chan types.BlowEvent, error) {
	changes, err := r.Subscribe(ctx, room)
	if err != nil {
		return nil, err
	}
	out := make(chan types.BlowEvent)
	go func() {
		defer close(out)
		for c := range changes {
			if c.Type != types.ChangeBlow || c.Blow == nil {
				continue
			}
			select {
			case out <- *c.Blow:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Subscribers returns the number of open subscriptions.
func (r *Realtime) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close disconnects every subscriber and closes the underlying store.
func (r *Realtime) Close() error {
	r.mu.Lock()
	r.closed = true
	for sub := range r.subs {
		r.removeLocked(sub)
	}
	r.mu.Unlock()
	return r.Store.Close()
}

func (r *Realtime) publish(c types.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sub := range r.subs {
		if sub.room != c.Room {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			slog.Warn("realtime subscriber too slow, disconnecting", "room", sub.room)
			r.removeLocked(sub)
		}
	}
}

func (r *Realtime) removeLocked(sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(r.subs, sub)
	close(sub.ch)
}
