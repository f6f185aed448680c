package queue

import (
	"time"

	"usedtrade/tools/chrono"
	"usedtrade/tools/decode"
	"usedtrade/tools/errs"
)

const (
	FieldRoomID    = "roomId"
	FieldUserID    = "userId"
	FieldContents  = "contents"
	FieldCreatedAt = "createdAt"
)

// MessageFields is a chat message on chat-message-stream. RoomID is the
// encrypted room token exactly as the client sent it.
type MessageFields struct {
	RoomID    string    `json:"roomId"`
	UserID    int64     `json:"userId"`
	Contents  string    `json:"contents"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m MessageFields) Values() map[string]any {
	return map[string]any{
		FieldRoomID:    m.RoomID,
		FieldUserID:    m.UserID,
		FieldContents:  m.Contents,
		FieldCreatedAt: chrono.Store(m.CreatedAt),
	}
}

// ReadFields is a read-point update on chat-read-stream.
type ReadFields struct {
	RoomID    string    `json:"roomId"`
	UserID    int64     `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r ReadFields) Values() map[string]any {
	return map[string]any{
		FieldRoomID:    r.RoomID,
		FieldUserID:    r.UserID,
		FieldCreatedAt: chrono.Store(r.CreatedAt),
	}
}

// DecodeMessage fails with ErrDecode on any malformed entry.
func DecodeMessage(e Entry) (MessageFields, error) {
	m, err := decode.DecodeMap[MessageFields](e.Values)
	if err != nil {
		return MessageFields{}, errs.ErrDecode.WrapMsg(err.Error(), "stream", e.Stream, "id", e.ID)
	}
	if m.RoomID == "" || m.UserID <= 0 || m.CreatedAt.IsZero() {
		return MessageFields{}, errs.ErrDecode.WrapMsg("incomplete message entry", "stream", e.Stream, "id", e.ID)
	}
	m.CreatedAt = chrono.Truncate(m.CreatedAt)
	return *m, nil
}

func DecodeRead(e Entry) (ReadFields, error) {
	r, err := decode.DecodeMap[ReadFields](e.Values)
	if err != nil {
		return ReadFields{}, errs.ErrDecode.WrapMsg(err.Error(), "stream", e.Stream, "id", e.ID)
	}
	if r.RoomID == "" || r.UserID <= 0 || r.CreatedAt.IsZero() {
		return ReadFields{}, errs.ErrDecode.WrapMsg("incomplete read entry", "stream", e.Stream, "id", e.ID)
	}
	r.CreatedAt = chrono.Truncate(r.CreatedAt)
	return *r, nil
}
