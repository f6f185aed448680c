package chat

import (
	"strings"

	"usedtrade/logger"
	"usedtrade/tools/ids"
)

const ReceivePrefix = "/receive/"

// ReceiveDestination is where subscribers of roomID listen.
func ReceiveDestination(roomID string) string { return ReceivePrefix + roomID }

// Relay carries broadcasts to the other gateway nodes.
type Relay interface {
	Publish(roomID string, body []byte) error
}

// Broadcaster delivers room broadcasts to local subscribers and, when a
// relay is set, to the rest of the cluster.
type Broadcaster struct {
	conns *ConnManager
	relay Relay
}

func NewBroadcaster(conns *ConnManager, relay Relay) *Broadcaster {
	return &Broadcaster{conns: conns, relay: relay}
}

// Publish broadcasts body to /receive/{roomID} everywhere. It returns the
// number of local deliveries.
func (b *Broadcaster) Publish(roomID string, body []byte) int {
	n := b.Deliver(roomID, body)
	if b.relay != nil {
		if err := b.relay.Publish(roomID, body); err != nil {
			logger.Warnf("[WS] relay publish failed room=%s: %v", roomID, err)
		}
	}
	return n
}

// Deliver writes body to the local subscribers only. Slow subscribers whose
// queue is full are disconnected.
func (b *Broadcaster) Deliver(roomID string, body []byte) int {
	dest := ReceiveDestination(roomID)
	n := 0
	for _, s := range b.conns.Subscribers(dest) {
		f := NewFrame(CmdMessage,
			HdrDestination, dest,
			HdrSubscription, s.ID,
			HdrMessageID, ids.GenerateString(),
			HdrContentType, ContentTypeJSON,
		)
		f.Body = body
		if s.Conn.Send(f) {
			n++
			continue
		}
		logger.Warnf("[WS] drop slow subscriber conn=%s dest=%s", s.Conn.ConnID, dest)
		b.conns.Remove(s.Conn.ConnID)
	}
	return n
}

// RoomOfReceive extracts the room token of a "/receive/{roomId}"
// subscription destination.
func RoomOfReceive(dest string) (string, bool) {
	room, ok := strings.CutPrefix(dest, ReceivePrefix)
	return room, ok && validRoom(room)
}

// RoomOfSend extracts the room token of a "/{roomId}" SEND destination.
func RoomOfSend(dest string) (string, bool) {
	room, ok := strings.CutPrefix(dest, "/")
	return room, ok && validRoom(room)
}

func validRoom(room string) bool {
	return room != "" && !strings.Contains(room, "/")
}
