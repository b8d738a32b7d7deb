// Package objectid implements the two tagged scalar value types the
// document store round-trips through storage without loss: ObjectId and
// Binary.
package objectid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectId is a 12-byte identifier: a 4-byte seconds-since-epoch prefix
// followed by 8 bytes of process-unique entropy+counter, matching the
// interchange shape described in spec.md's Glossary.
type ObjectId [12]byte

var objectIDCounter uint32

func init() {
	var seed [3]byte
	_, _ = rand.Read(seed[:])
	objectIDCounter = uint32(seed[0])<<16 | uint32(seed[1])<<8 | uint32(seed[2])
}

// New generates a fresh ObjectId using the current time and a
// process-wide counter, the same byte layout MongoDB drivers use
// (4-byte timestamp, 5 random bytes drawn anew on each call, 3-byte
// counter).
func New() ObjectId {
	var id ObjectId
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))

	var rnd [5]byte
	_, _ = rand.Read(rnd[:])
	copy(id[4:9], rnd[:])

	c := atomic.AddUint32(&objectIDCounter, 1) & 0x00ffffff
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// FromHex parses a 24-character hex string into an ObjectId.
func FromHex(s string) (ObjectId, error) {
	var id ObjectId
	if len(s) != 24 {
		return id, fmt.Errorf("objectid: hex string must be 24 characters, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("objectid: invalid hex: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// IsValidHex reports whether s looks like a 24-character hex ObjectId,
// used by the Field Accessor's identifier auto-correction rule.
func IsValidHex(s string) bool {
	if len(s) != 24 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Hex returns the 24-character lowercase hex representation.
func (id ObjectId) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectId) String() string {
	return "ObjectId(" + id.Hex() + ")"
}

// Timestamp extracts the embedded creation time.
func (id ObjectId) Timestamp() time.Time {
	sec := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(sec), 0).UTC()
}

// storageTag is the JSON key used to recognize an encoded ObjectId/Binary
// in storage, matching the spec's exact wire shape.
const (
	objectIDTag = "__neosqlite_objectid__"
	binaryTag   = "__neosqlite_binary__"
)

// EncodeForStorage renders the ObjectId as the tagged dict the spec
// requires: {"__neosqlite_objectid__": true, "id": "<24-hex>"}.
func (id ObjectId) EncodeForStorage() map[string]any {
	return map[string]any{
		objectIDTag: true,
		"id":        id.Hex(),
	}
}

// DecodeObjectId recognizes and decodes the tagged-dict shape produced by
// EncodeForStorage. ok is false if m is not a tagged ObjectId.
func DecodeObjectId(m map[string]any) (id ObjectId, ok bool) {
	if tagged, _ := m[objectIDTag].(bool); !tagged {
		return id, false
	}
	hexID, _ := m["id"].(string)
	parsed, err := FromHex(hexID)
	if err != nil {
		return id, false
	}
	return parsed, true
}

// Binary is a tagged byte string; Subtype mirrors BSON binary subtypes
// (0 = generic, 4 = UUID, etc.) though the store does not interpret it.
type Binary struct {
	Data    []byte
	Subtype uint8
}

// EncodeForStorage renders Binary as {"__neosqlite_binary__": true,
// "data": "<base64>", "subtype": N}.
func (b Binary) EncodeForStorage() map[string]any {
	return map[string]any{
		binaryTag: true,
		"data":    base64.StdEncoding.EncodeToString(b.Data),
		"subtype": int(b.Subtype),
	}
}

// DecodeBinary recognizes and decodes the tagged-dict shape produced by
// Binary.EncodeForStorage.
func DecodeBinary(m map[string]any) (b Binary, ok bool) {
	if tagged, _ := m[binaryTag].(bool); !tagged {
		return b, false
	}
	dataStr, _ := m["data"].(string)
	raw, err := base64.StdEncoding.DecodeString(dataStr)
	if err != nil {
		return b, false
	}
	subtype := 0
	switch v := m["subtype"].(type) {
	case int:
		subtype = v
	case float64:
		subtype = int(v)
	}
	return Binary{Data: raw, Subtype: uint8(subtype)}, true
}

func (b Binary) String() string {
	return fmt.Sprintf("Binary(subtype=%d, len=%d)", b.Subtype, len(b.Data))
}
