package natsx

import (
	"strings"
	"sync"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"github.com/nats-io/nats.go"
)

const (
	DefaultSubjectPrefix = "chat.receive"
	HeaderOrigin         = "Chat-Origin"
)

// DeliverFunc hands a frame body published by another node to local subscribers.
type DeliverFunc func(roomID string, body []byte)

// Relay fans chat broadcasts out to every gateway node. Each node publishes
// the frames it produced and delivers the frames of the others.
type Relay struct {
	nc     *nats.Conn
	prefix string
	origin string

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewRelay(nc *nats.Conn, prefix, origin string) *Relay {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Relay{nc: nc, prefix: strings.TrimSuffix(prefix, "."), origin: origin}
}

func (r *Relay) Subject(roomID string) string {
	return r.prefix + "." + roomID
}

// RoomOf is the inverse of Subject; ok is false for foreign subjects.
func (r *Relay) RoomOf(subject string) (string, bool) {
	room, ok := strings.CutPrefix(subject, r.prefix+".")
	if !ok || room == "" || strings.Contains(room, ".") {
		return "", false
	}
	return room, true
}

func (r *Relay) Publish(roomID string, body []byte) error {
	msg := nats.NewMsg(r.Subject(roomID))
	msg.Header.Set(HeaderOrigin, r.origin)
	msg.Data = body
	if err := r.nc.PublishMsg(msg); err != nil {
		return errs.WrapMsg(err, "nats publish", "room", roomID)
	}
	return nil
}

// Start subscribes to every room subject. Frames that this node published
// itself are dropped.
func (r *Relay) Start(deliver DeliverFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return nil
	}
	sub, err := r.nc.Subscribe(r.prefix+".*", func(m *nats.Msg) {
		r.handle(m, deliver)
	})
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "prefix", r.prefix)
	}
	r.sub = sub
	logger.Infof("[NATS] relay subscribed subject=%s.* origin=%s", r.prefix, r.origin)
	return nil
}

func (r *Relay) handle(m *nats.Msg, deliver DeliverFunc) {
	if m.Header != nil && m.Header.Get(HeaderOrigin) == r.origin {
		return
	}
	room, ok := r.RoomOf(m.Subject)
	if !ok {
		logger.Warnf("[NATS] relay ignored subject=%s", m.Subject)
		return
	}
	deliver(room, m.Data)
}

func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Drain()
	r.sub = nil
	return errs.Wrap(err)
}
