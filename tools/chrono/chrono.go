// Package chrono keeps every stored timestamp in UTC and applies the
// marketplace display offset only when parsing client input or rendering output.
package chrono

import (
	"fmt"
	"strings"
	"time"

	"usedtrade/tools/errs"
)

// Epoch is the "never read" sentinel: older than any message.
var Epoch = time.Date(1999, 2, 11, 0, 0, 0, 0, time.UTC)

// Precision is the finest time unit kept for message and read times. It is
// coarser than every relational store's timestamp column.
const Precision = time.Millisecond

// StoreLayout is the single textual representation used in redis and stream fields.
const StoreLayout = time.RFC3339Nano

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// Display converts between UTC and the zone users see.
type Display struct {
	loc *time.Location
}

// NewDisplay parses an offset such as "+09:00" or "-03:30".
func NewDisplay(offset string) (*Display, error) {
	offset = strings.TrimSpace(offset)
	if offset == "" || offset == "Z" || offset == "+00:00" {
		return &Display{loc: time.UTC}, nil
	}
	t, err := time.Parse("-07:00", offset)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("bad display offset", "offset", offset)
	}
	_, sec := t.Zone()
	return &Display{loc: time.FixedZone(offset, sec)}, nil
}

// MustDisplay is NewDisplay for constants.
func MustDisplay(offset string) *Display {
	d, err := NewDisplay(offset)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Display) Location() *time.Location { return d.loc }

// ParseClient reads a timestamp sent by a client. Values with a zone are
// honoured; zone-less local values are taken in the display zone.
// The result is UTC, truncated to Precision.
func (d *Display) ParseClient(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errs.ErrArgs.WrapMsg("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Truncate(t), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, d.loc); err == nil {
			return Truncate(t), nil
		}
	}
	return time.Time{}, errs.ErrArgs.WrapMsg("unparseable timestamp", "value", s)
}

// ParseOptional parses an optional cursor; empty means "no cursor".
func (d *Display) ParseOptional(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := d.ParseClient(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Format renders t in the display zone.
func (d *Display) Format(t time.Time) string {
	return t.In(d.loc).Format(time.RFC3339Nano)
}

// Store renders t for redis and stream fields.
func Store(t time.Time) string {
	return t.UTC().Format(StoreLayout)
}

// ParseStore is the inverse of Store.
func ParseStore(s string) (time.Time, error) {
	t, err := time.Parse(StoreLayout, s)
	if err != nil {
		return time.Time{}, errs.ErrDecode.WrapMsg("bad stored timestamp", "value", s)
	}
	return t.UTC(), nil
}

// Score is the sorted-set score of t.
func Score(t time.Time) float64 {
	return float64(t.UTC().UnixMilli())
}

// Truncate drops everything finer than Precision and returns UTC.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(Precision)
}

// MessageID is the fast-tier key of a message: "{createdAt}_{senderId}".
// The time is truncated so a key rebuilt from the relational store matches
// the one written at send time.
func MessageID(createdAt time.Time, senderID int64) string {
	return fmt.Sprintf("%s_%d", Store(Truncate(createdAt)), senderID)
}

// Max returns the later of a and b.
func Max(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
