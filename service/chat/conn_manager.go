package chat

import (
	"sync"
	"time"

	"usedtrade/tools/errs"
)

const DefaultSendQueue = 256

// WsConn is one gateway connection. Frames are queued on Send and written
// by the connection's write pump.
type WsConn struct {
	ConnID    string
	Remote    string
	CreatedAt time.Time

	mu        sync.RWMutex
	userID    int64
	connected bool
	subs      map[string]string // subscription id -> destination

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWsConn(connID, remote string, queue int) *WsConn {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	return &WsConn{
		ConnID:    connID,
		Remote:    remote,
		CreatedAt: time.Now(),
		subs:      make(map[string]string),
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
	}
}

// UserID is the authenticated principal, 0 when anonymous.
func (c *WsConn) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *WsConn) SetUserID(id int64) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// Connected reports whether CONNECT has been accepted.
func (c *WsConn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// MarkConnected records a successful CONNECT with its principal.
func (c *WsConn) MarkConnected(userID int64) {
	c.mu.Lock()
	c.connected = true
	c.userID = userID
	c.mu.Unlock()
}

// Send queues a frame. A full queue closes the connection and reports false.
func (c *WsConn) Send(f *Frame) bool {
	return c.SendRaw(Encode(f))
}

func (c *WsConn) SendRaw(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	case <-c.done:
		return false
	default:
		c.Close()
		return false
	}
}

// Close stops the write pump. It is safe to call more than once.
func (c *WsConn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *WsConn) Done() <-chan struct{} { return c.done }

func (c *WsConn) Destinations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for _, d := range c.subs {
		out = append(out, d)
	}
	return out
}

// ConnManager is the gateway's session registry: connections by id and
// subscribers by destination. Remove tears a connection down completely.
type ConnManager struct {
	mu     sync.RWMutex
	conns  map[string]*WsConn
	byDest map[string]map[string]subscriber // destination -> connID -> subscriber
	queue  int
}

type subscriber struct {
	conn  *WsConn
	subID string
}

func NewConnManager(queue int) *ConnManager {
	return &ConnManager{
		conns:  make(map[string]*WsConn),
		byDest: make(map[string]map[string]subscriber),
		queue:  queue,
	}
}

// Add registers a new connection.
func (m *ConnManager) Add(connID, remote string) (*WsConn, error) {
	if connID == "" {
		return nil, errs.ErrArgs.WrapMsg("empty connection id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[connID]; ok {
		return nil, errs.ErrArgs.WrapMsg("connection id in use", "conn", connID)
	}
	c := newWsConn(connID, remote, m.queue)
	m.conns[connID] = c
	return c, nil
}

func (m *ConnManager) Get(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connID]
	return c, ok
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Subscribe registers subID on destination for connID. A second
// subscription to the same destination on one connection is rejected.
func (m *ConnManager) Subscribe(connID, subID, destination string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok {
		return errs.ErrNotFound.WrapMsg("unknown connection", "conn", connID)
	}
	if _, dup := m.byDest[destination][connID]; dup {
		return errs.ErrDuplicateSubscription.WrapMsg("duplicate subscription", "destination", destination)
	}
	c.mu.Lock()
	if _, dup := c.subs[subID]; dup {
		c.mu.Unlock()
		return errs.ErrDuplicateSubscription.WrapMsg("subscription id in use", "id", subID)
	}
	c.subs[subID] = destination
	c.mu.Unlock()

	subs := m.byDest[destination]
	if subs == nil {
		subs = make(map[string]subscriber)
		m.byDest[destination] = subs
	}
	subs[connID] = subscriber{conn: c, subID: subID}
	return nil
}

// Unsubscribe drops one subscription; unknown ids are ignored.
func (m *ConnManager) Unsubscribe(connID, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connID]
	if !ok {
		return
	}
	c.mu.Lock()
	dest, ok := c.subs[subID]
	delete(c.subs, subID)
	c.mu.Unlock()
	if ok {
		m.dropLocked(dest, connID)
	}
}

// Remove tears down a connection with all of its subscriptions and closes
// it. It reports whether the connection was registered.
func (m *ConnManager) Remove(connID string) (*WsConn, bool) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if ok {
		delete(m.conns, connID)
		c.mu.Lock()
		for _, dest := range c.subs {
			m.dropLocked(dest, connID)
		}
		c.subs = make(map[string]string)
		c.mu.Unlock()
	}
	m.mu.Unlock()
	if ok {
		c.Close()
	}
	return c, ok
}

func (m *ConnManager) dropLocked(dest, connID string) {
	subs := m.byDest[dest]
	delete(subs, connID)
	if len(subs) == 0 {
		delete(m.byDest, dest)
	}
}

// Subscribers is a snapshot of the subscribers of destination.
func (m *ConnManager) Subscribers(destination string) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := m.byDest[destination]
	out := make([]Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, Subscription{Conn: s.conn, ID: s.subID})
	}
	return out
}

type Subscription struct {
	Conn *WsConn
	ID   string
}

// Close removes every connection.
func (m *ConnManager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Remove(id)
	}
}
