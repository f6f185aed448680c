package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strconv"

	"usedtrade/tools/errs"
)

// RoomCodec turns numeric channel ids into opaque, URL-safe tokens and back.
// The mapping is deterministic under one static key, so the same id always
// yields the same token and equal tokens always mean the same channel.
type RoomCodec struct {
	block cipher.Block
}

// NewRoomCodec accepts a 16, 24 or 32 byte key (AES-128/192/256).
func NewRoomCodec(key []byte) (*RoomCodec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("invalid codec key", "len", len(key))
	}
	return &RoomCodec{block: block}, nil
}

// Encode encrypts the decimal form of id.
func (c *RoomCodec) Encode(id int64) string {
	return c.EncodeString(strconv.FormatInt(id, 10))
}

// Decode returns the channel id behind token. Every failure is an ErrDecode.
func (c *RoomCodec) Decode(token string) (int64, error) {
	plain, err := c.DecodeString(token)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(plain, 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.ErrDecode.WrapMsg("room token is not a channel id")
	}
	return id, nil
}

func (c *RoomCodec) EncodeString(value string) string {
	bs := c.block.BlockSize()
	src := pad([]byte(value), bs)
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		c.block.Encrypt(dst[i:i+bs], src[i:i+bs])
	}
	return base64.RawURLEncoding.EncodeToString(dst)
}

func (c *RoomCodec) DecodeString(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", errs.ErrDecode.WrapMsg("room token is not base64url")
	}
	bs := c.block.BlockSize()
	if len(raw) == 0 || len(raw)%bs != 0 {
		return "", errs.ErrDecode.WrapMsg("room token has bad length", "len", len(raw))
	}
	dst := make([]byte, len(raw))
	for i := 0; i < len(raw); i += bs {
		c.block.Decrypt(dst[i:i+bs], raw[i:i+bs])
	}
	plain, ok := unpad(dst, bs)
	if !ok {
		return "", errs.ErrDecode.WrapMsg("room token has bad padding")
	}
	return string(plain), nil
}

// pad applies PKCS#7.
func pad(b []byte, bs int) []byte {
	n := bs - len(b)%bs
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, bs int) ([]byte, bool) {
	n := int(b[len(b)-1])
	if n == 0 || n > bs || n > len(b) {
		return nil, false
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
