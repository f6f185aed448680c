package chat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"usedtrade/tools/chrono"
	"usedtrade/tools/decode"
	"usedtrade/tools/errs"
)

type PayloadKind int

const (
	KindMessage PayloadKind = iota + 1
	KindReadReceipt
)

// Wire values of the payload "type" field.
const (
	TypeMessage = "MESSAGE"
	TypeReceive = "RECEIVE"
)

// ChatMessage is a SEND body of type MESSAGE. CreatedAt is UTC.
type ChatMessage struct {
	RoomID    string
	SenderID  int64
	Message   string
	CreatedAt time.Time
}

// ReadReceipt is a SEND body of type RECEIVE. ReceiveAt is UTC.
type ReadReceipt struct {
	RoomID     string
	ReceiverID int64
	ReceiveAt  time.Time
}

// Payload is a SEND body decoded once. Exactly one of Message and Receipt
// is set, as named by Kind.
type Payload struct {
	Kind    PayloadKind
	Message *ChatMessage
	Receipt *ReadReceipt

	raw map[string]any
}

func (p *Payload) RoomID() string {
	switch p.Kind {
	case KindMessage:
		return p.Message.RoomID
	case KindReadReceipt:
		return p.Receipt.RoomID
	}
	return ""
}

type wireMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
	ReceiveAt string `json:"receiveAt"`
}

// ParsePayload decodes a SEND body. Client times are read in the display
// zone when they carry no offset; a missing time means now. A receipt takes
// its time from receiveAt, else createdAt. Times keep millisecond precision.
func ParsePayload(body []byte, display *chrono.Display, now time.Time) (*Payload, error) {
	raw, err := decode.JSONMap(body)
	if err != nil {
		return nil, errs.ErrDecode.WrapMsg("payload is not a json object")
	}
	w, err := decode.DecodeMap[wireMessage](raw)
	if err != nil {
		return nil, errs.ErrDecode.WrapMsg(err.Error())
	}
	if w.RoomID == "" {
		return nil, errs.ErrArgs.WrapMsg("payload has no roomId")
	}
	p := &Payload{raw: raw}
	switch strings.ToUpper(w.Type) {
	case TypeMessage:
		sender, err := parseUser(w.Sender)
		if err != nil {
			return nil, err
		}
		at, err := clientTime(display, w.CreatedAt, now)
		if err != nil {
			return nil, err
		}
		p.Kind = KindMessage
		p.Message = &ChatMessage{RoomID: w.RoomID, SenderID: sender, Message: w.Message, CreatedAt: at}
	case TypeReceive:
		receiver, err := parseUser(w.Receiver)
		if err != nil {
			return nil, err
		}
		stamp := w.ReceiveAt
		if strings.TrimSpace(stamp) == "" {
			stamp = w.CreatedAt
		}
		at, err := clientTime(display, stamp, now)
		if err != nil {
			return nil, err
		}
		p.Kind = KindReadReceipt
		p.Receipt = &ReadReceipt{RoomID: w.RoomID, ReceiverID: receiver, ReceiveAt: at}
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown payload type", "type", w.Type)
	}
	return p, nil
}

// SetSender pins the sender or receiver to the authenticated user.
func (p *Payload) SetSender(userID int64) {
	switch p.Kind {
	case KindMessage:
		p.Message.SenderID = userID
		p.raw["sender"] = strconv.FormatInt(userID, 10)
	case KindReadReceipt:
		p.Receipt.ReceiverID = userID
		p.raw["receiver"] = strconv.FormatInt(userID, 10)
	}
}

func (p *Payload) SenderID() int64 {
	switch p.Kind {
	case KindMessage:
		return p.Message.SenderID
	case KindReadReceipt:
		return p.Receipt.ReceiverID
	}
	return 0
}

// BroadcastBody is the client's own payload with createdAt rendered in
// the display zone. Unknown client fields are kept.
func (p *Payload) BroadcastBody(display *chrono.Display) ([]byte, error) {
	out := make(map[string]any, len(p.raw)+1)
	for k, v := range p.raw {
		out[k] = v
	}
	if p.Kind == KindMessage {
		out["createdAt"] = display.Format(p.Message.CreatedAt)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal broadcast")
	}
	return b, nil
}

func parseUser(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, errs.ErrArgs.WrapMsg("bad user id", "value", s)
	}
	return id, nil
}

func clientTime(display *chrono.Display, s string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return chrono.Truncate(now), nil
	}
	return display.ParseClient(s)
}
