package state

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBBadge struct {
	ChannelID string `msgpack:"channelId"`
	Unread    int    `msgpack:"unread"`
	Mentions  int    `msgpack:"mentions"`
}

func (b *DBBadge) Key() []byte {
	return []byte(b.ChannelID)
}

func (b *DBBadge) MarshalBinary() (data []byte, err error) {
	type alias DBBadge
	return msgpack.Marshal((*alias)(b))
}

func (b *DBBadge) UnmarshalBinary(data []byte) error {
	type alias DBBadge
	return msgpack.Unmarshal(data, (*alias)(b))
}

type DBChannel struct {
	ID          string `msgpack:"id"`
	Name        string `msgpack:"name"`
	DisplayName string `msgpack:"displayName"`
	Category    string `msgpack:"category"`
	AccessLevel string `msgpack:"accessLevel"`
	Locked      bool   `msgpack:"locked"`
	Position    int    `msgpack:"position"`
}

func (c *DBChannel) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChannel) MarshalBinary() (data []byte, err error) {
	type alias DBChannel
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChannel) UnmarshalBinary(data []byte) error {
	type alias DBChannel
	return msgpack.Unmarshal(data, (*alias)(c))
}

// DBLayout captures the viewer's sidebar arrangement: category order
// and which categories are collapsed.
type DBLayout struct {
	CategoryOrder []string `msgpack:"categoryOrder"`
	Collapsed     []string `msgpack:"collapsed"`
}

func (l *DBLayout) Key() []byte {
	return []byte("layout")
}

func (l *DBLayout) MarshalBinary() (data []byte, err error) {
	type alias DBLayout
	return msgpack.Marshal((*alias)(l))
}

func (l *DBLayout) UnmarshalBinary(data []byte) error {
	type alias DBLayout
	return msgpack.Unmarshal(data, (*alias)(l))
}

type DBProgress struct {
	XP    int `msgpack:"xp"`
	Level int `msgpack:"level"`
}

func (p *DBProgress) Key() []byte {
	return []byte("progress")
}

func (p *DBProgress) MarshalBinary() (data []byte, err error) {
	type alias DBProgress
	return msgpack.Marshal((*alias)(p))
}

func (p *DBProgress) UnmarshalBinary(data []byte) error {
	type alias DBProgress
	return msgpack.Unmarshal(data, (*alias)(p))
}

// DBPushSubscription is a web-push endpoint registered by one of the
// viewer's devices.
type DBPushSubscription struct {
	Endpoint string `msgpack:"endpoint"`
	P256dh   string `msgpack:"p256dh"`
	Auth     string `msgpack:"auth"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
