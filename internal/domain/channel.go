package domain

import (
	"encoding/json"
	"fmt"
)

// ChannelType identifies a delivery mechanism.
type ChannelType string

// Channel types. The set is closed: every value has a slot in ChannelTable.
const (
	ChannelTypeTelegram ChannelType = "telegram"
	ChannelTypeEmail    ChannelType = "email"
	ChannelTypeWebhook  ChannelType = "webhook"
	ChannelTypePush     ChannelType = "push"
	ChannelTypeSMS      ChannelType = "sms"
)

// ChannelCount is the number of known channel types.
const ChannelCount = 5

// ChannelTypes lists every channel type in table order.
var ChannelTypes = [ChannelCount]ChannelType{
	ChannelTypeTelegram,
	ChannelTypeEmail,
	ChannelTypeWebhook,
	ChannelTypePush,
	ChannelTypeSMS,
}

// Index returns the table slot of the channel type, or -1 for unknown values.
func (c ChannelType) Index() int {
	for i, ct := range ChannelTypes {
		if ct == c {
			return i
		}
	}
	return -1
}

// IsValid reports whether c is one of the known channel types.
func (c ChannelType) IsValid() bool {
	return c.Index() >= 0
}

// ChannelTable holds one value per channel type.
type ChannelTable[T any] [ChannelCount]T

// Get returns the entry for c. Unknown channels yield the zero value.
func (t ChannelTable[T]) Get(c ChannelType) T {
	var zero T
	i := c.Index()
	if i < 0 {
		return zero
	}
	return t[i]
}

// Set stores v for c. Unknown channels are ignored.
func (t *ChannelTable[T]) Set(c ChannelType, v T) {
	if i := c.Index(); i >= 0 {
		t[i] = v
	}
}

// MarshalJSON encodes the table as an object keyed by channel type.
func (t ChannelTable[T]) MarshalJSON() ([]byte, error) {
	m := make(map[ChannelType]T, ChannelCount)
	for i, ct := range ChannelTypes {
		m[ct] = t[i]
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes an object keyed by channel type.
// Missing channels keep their zero value.
func (t *ChannelTable[T]) UnmarshalJSON(data []byte) error {
	var m map[ChannelType]T
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for ct, v := range m {
		i := ct.Index()
		if i < 0 {
			return fmt.Errorf("unknown channel type %q", ct)
		}
		t[i] = v
	}
	return nil
}
