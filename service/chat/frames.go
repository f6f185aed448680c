package chat

import (
	"bytes"
	"io"
	"strconv"

	"usedtrade/tools/errs"

	"github.com/go-stomp/stomp/v3/frame"
)

// STOMP commands understood or produced by the gateway.
const (
	CmdConnect     = frame.CONNECT
	CmdStomp       = frame.STOMP
	CmdSubscribe   = frame.SUBSCRIBE
	CmdUnsubscribe = frame.UNSUBSCRIBE
	CmdSend        = frame.SEND
	CmdDisconnect  = frame.DISCONNECT

	CmdConnected = frame.CONNECTED
	CmdMessage   = frame.MESSAGE
	CmdReceipt   = frame.RECEIPT
	CmdError     = frame.ERROR
)

const (
	HdrDestination   = frame.Destination
	HdrID            = frame.Id
	HdrReceipt       = frame.Receipt
	HdrReceiptID     = frame.ReceiptId
	HdrSubscription  = frame.Subscription
	HdrMessageID     = frame.MessageId
	HdrContentType   = frame.ContentType
	HdrVersion       = frame.Version
	HdrHeartBeat     = frame.HeartBeat
	HdrSession       = frame.Session
	HdrMessage       = frame.Message
	HdrAuthorization = "Authorization"
	HdrUserName      = "user-name"
	HdrErrorCode     = "error-code"

	ContentTypeJSON = "application/json"
)

// Frame is one STOMP 1.2 frame. Header.Get returns the first occurrence of
// a repeated header.
type Frame = frame.Frame

// NewFrame builds a frame from alternating header names and values.
func NewFrame(command string, kv ...string) *Frame {
	return frame.New(command, kv...)
}

// Encode renders f with escaped headers and the trailing NUL.
func Encode(f *Frame) []byte {
	var b bytes.Buffer
	// a bytes.Buffer never fails a write
	_ = frame.NewWriter(&b).Write(f)
	return b.Bytes()
}

// ReadFrames decodes every frame of one websocket message. Heart-beat EOLs
// are skipped. On a malformed frame the frames read so far are returned
// with the error; the rest of the message is dropped.
func ReadFrames(data []byte) ([]*Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var out []*Frame
	for {
		f, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, errs.ErrDecode.WrapMsg("malformed frame", "err", err.Error())
		}
		if f != nil {
			out = append(out, f)
		}
	}
}

// ErrorFrame reports err to the client. The receipt is echoed when the
// failing frame asked for one.
func ErrorFrame(err error, receipt string) *Frame {
	f := NewFrame(CmdError, HdrContentType, "text/plain")
	if c := errs.Code(err); c != nil {
		f.Header.Set(HdrMessage, c.Msg)
		f.Header.Set(HdrErrorCode, strconv.Itoa(c.Code))
		f.Body = []byte(c.Error())
	} else {
		f.Header.Set(HdrMessage, "internal error")
		f.Header.Set(HdrErrorCode, strconv.Itoa(errs.ServerInternalError))
	}
	if receipt != "" {
		f.Header.Set(HdrReceiptID, receipt)
	}
	return f
}
