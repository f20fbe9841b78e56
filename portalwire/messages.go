package portalwire

import (
	"encoding/binary"
	"errors"
	"fmt"

	ssz "github.com/ferranbt/fastssz"
)

// Message codes for the portal protocol.
const (
	PING        byte = 0x00
	PONG        byte = 0x01
	FINDNODES   byte = 0x02
	NODES       byte = 0x03
	FINDCONTENT byte = 0x04
	CONTENT     byte = 0x05
	OFFER       byte = 0x06
	ACCEPT      byte = 0x07
)

// Content selectors for the CONTENT message.
const (
	ContentConnIdSelector byte = 0x00
	ContentRawSelector    byte = 0x01
	ContentEnrsSelector   byte = 0x02
)

var (
	ErrEmptyMessage           = errors.New("empty message")
	ErrUnknownMessageType     = errors.New("unknown message type")
	ErrUnknownContentSelector = errors.New("unknown content selector")
	ErrInvalidDistance        = errors.New("invalid distance")
	ErrListTooLong            = errors.New("list exceeds its limit")
	ErrItemTooLarge           = errors.New("item exceeds its size limit")
	ErrEmptyItem              = errors.New("empty list item")
	ErrInvalidConnectionId    = errors.New("invalid connection id")
)

// Message is one of the eight portal wire messages: *Ping, *Pong,
// *FindNodes, *Nodes, *FindContent, *ContentMessage, *Offer or
// *AcceptMessage.
type Message interface {
	ssz.Marshaler
	Kind() byte
	message()
}

func (*Ping) Kind() byte           { return PING }
func (*Pong) Kind() byte           { return PONG }
func (*FindNodes) Kind() byte      { return FINDNODES }
func (*Nodes) Kind() byte          { return NODES }
func (*FindContent) Kind() byte    { return FINDCONTENT }
func (*ContentMessage) Kind() byte { return CONTENT }
func (*Offer) Kind() byte          { return OFFER }
func (*AcceptMessage) Kind() byte  { return ACCEPT }

func (*Ping) message()           {}
func (*Pong) message()           {}
func (*FindNodes) message()      {}
func (*Nodes) message()          {}
func (*FindContent) message()    {}
func (*ContentMessage) message() {}
func (*Offer) message()          {}
func (*AcceptMessage) message()  {}

var messageNames = map[byte]string{
	PING:        "ping",
	PONG:        "pong",
	FINDNODES:   "find_nodes",
	NODES:       "nodes",
	FINDCONTENT: "find_content",
	CONTENT:     "content",
	OFFER:       "offer",
	ACCEPT:      "accept",
}

// MessageName returns the name used for a message kind in logs and metrics.
func MessageName(kind byte) string {
	if name, ok := messageNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%#x)", kind)
}

// ContentPayload is the variant carried by a CONTENT message: *ConnectionId,
// *Content or *Enrs.
type ContentPayload interface {
	ssz.Marshaler
	Selector() byte
	contentPayload()
}

func (*ConnectionId) Selector() byte { return ContentConnIdSelector }
func (*Content) Selector() byte      { return ContentRawSelector }
func (*Enrs) Selector() byte         { return ContentEnrsSelector }

func (*ConnectionId) contentPayload() {}
func (*Content) contentPayload()      {}
func (*Enrs) contentPayload()         {}

// ContentMessage is a CONTENT response: a selector byte followed by the
// encoding of its payload variant.
type ContentMessage struct {
	Payload ContentPayload
}

func (c *ContentMessage) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(c)
}

func (c *ContentMessage) MarshalSSZTo(buf []byte) ([]byte, error) {
	if c.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrUnknownContentSelector)
	}
	return c.Payload.MarshalSSZTo(append(buf, c.Payload.Selector()))
}

func (c *ContentMessage) SizeSSZ() int {
	if c.Payload == nil {
		return 1
	}
	return 1 + c.Payload.SizeSSZ()
}

func (c *ContentMessage) UnmarshalSSZ(buf []byte) error {
	if len(buf) == 0 {
		return ssz.ErrSize
	}
	var payload interface {
		ContentPayload
		UnmarshalSSZ([]byte) error
	}
	switch buf[0] {
	case ContentConnIdSelector:
		payload = new(ConnectionId)
	case ContentRawSelector:
		payload = new(Content)
	case ContentEnrsSelector:
		payload = new(Enrs)
	default:
		return fmt.Errorf("%w: %#x", ErrUnknownContentSelector, buf[0])
	}
	if err := payload.UnmarshalSSZ(buf[1:]); err != nil {
		return err
	}
	c.Payload = payload
	return nil
}

// EncodeMessage prefixes the ssz encoding of m with its message code.
func EncodeMessage(m Message) ([]byte, error) {
	buf := make([]byte, 1, 1+m.SizeSSZ())
	buf[0] = m.Kind()
	return m.MarshalSSZTo(buf)
}

// DecodeMessage parses a talk request or response. acceptVersion selects the
// accept field encoding and is ignored for every other message kind.
func DecodeMessage(b []byte, acceptVersion uint8) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	var msg interface {
		Message
		UnmarshalSSZ([]byte) error
	}
	switch b[0] {
	case PING:
		msg = new(Ping)
	case PONG:
		msg = new(Pong)
	case FINDNODES:
		msg = new(FindNodes)
	case NODES:
		msg = new(Nodes)
	case FINDCONTENT:
		msg = new(FindContent)
	case CONTENT:
		msg = new(ContentMessage)
	case OFFER:
		msg = new(Offer)
	case ACCEPT:
		msg = &AcceptMessage{Version: acceptVersion}
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownMessageType, b[0])
	}
	if err := msg.UnmarshalSSZ(b[1:]); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MessageName(b[0]), err)
	}
	var err error
	switch m := msg.(type) {
	case *FindNodes:
		_, err = m.Uints()
	case *Offer:
		err = checkByteLists(m.ContentKeys, MaxContentKeys, MaxContentKeySize)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", MessageName(b[0]), err)
	}
	return msg, nil
}

func checkByteLists(items [][]byte, maxItems, maxItemSize int) error {
	if len(items) > maxItems {
		return fmt.Errorf("%w: %d items, max %d", ErrListTooLong, len(items), maxItems)
	}
	for i, item := range items {
		if len(item) == 0 {
			return fmt.Errorf("%w: index %d", ErrEmptyItem, i)
		}
		if len(item) > maxItemSize {
			return fmt.Errorf("%w: index %d has %d bytes, max %d", ErrItemTooLarge, i, len(item), maxItemSize)
		}
	}
	return nil
}

func NewPing(enrSeq uint64, payloadType uint16, payload []byte) (*Ping, error) {
	if len(payload) > MaxCustomPayloadSize {
		return nil, fmt.Errorf("%w: ping payload of %d bytes", ErrItemTooLarge, len(payload))
	}
	return &Ping{EnrSeq: enrSeq, PayloadType: payloadType, Payload: payload}, nil
}

func NewPong(enrSeq uint64, payloadType uint16, payload []byte) (*Pong, error) {
	if len(payload) > MaxCustomPayloadSize {
		return nil, fmt.Errorf("%w: pong payload of %d bytes", ErrItemTooLarge, len(payload))
	}
	return &Pong{EnrSeq: enrSeq, PayloadType: payloadType, Payload: payload}, nil
}

// NewFindNodes encodes log distances as little endian uint16 values. Every
// distance must be in [0, 256] and appear at most once.
func NewFindNodes(distances []uint) (*FindNodes, error) {
	if len(distances) > MaxDistances {
		return nil, fmt.Errorf("%w: %d distances", ErrListTooLong, len(distances))
	}
	seen := make(map[uint]struct{}, len(distances))
	res := make([][2]byte, 0, len(distances))
	for _, d := range distances {
		if d > MaxDistance {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDistance, d)
		}
		if _, ok := seen[d]; ok {
			return nil, fmt.Errorf("%w: duplicate %d", ErrInvalidDistance, d)
		}
		seen[d] = struct{}{}
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(d))
		res = append(res, b)
	}
	return &FindNodes{Distances: res}, nil
}

// Uints decodes and validates the requested distances.
func (f *FindNodes) Uints() ([]uint, error) {
	res := make([]uint, 0, len(f.Distances))
	seen := make(map[uint]struct{}, len(f.Distances))
	for _, b := range f.Distances {
		d := uint(binary.LittleEndian.Uint16(b[:]))
		if d > MaxDistance {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDistance, d)
		}
		if _, ok := seen[d]; ok {
			return nil, fmt.Errorf("%w: duplicate %d", ErrInvalidDistance, d)
		}
		seen[d] = struct{}{}
		res = append(res, d)
	}
	return res, nil
}

func NewNodes(total uint8, enrs [][]byte) (*Nodes, error) {
	if err := checkByteLists(enrs, MaxEnrs, MaxEnrSize); err != nil {
		return nil, err
	}
	return &Nodes{Total: total, Enrs: enrs}, nil
}

func NewFindContent(contentKey []byte) (*FindContent, error) {
	if len(contentKey) == 0 {
		return nil, fmt.Errorf("%w: content key", ErrEmptyItem)
	}
	if len(contentKey) > MaxContentKeySize {
		return nil, fmt.Errorf("%w: content key of %d bytes", ErrItemTooLarge, len(contentKey))
	}
	return &FindContent{ContentKey: contentKey}, nil
}

func NewContentConnectionId(connId []byte) (*ContentMessage, error) {
	if len(connId) != ConnectionIdSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidConnectionId, len(connId))
	}
	return &ContentMessage{Payload: &ConnectionId{Id: connId}}, nil
}

func NewContentRaw(content []byte) (*ContentMessage, error) {
	if len(content) > MaxContentSize {
		return nil, fmt.Errorf("%w: content of %d bytes", ErrItemTooLarge, len(content))
	}
	return &ContentMessage{Payload: &Content{Content: content}}, nil
}

func NewContentEnrs(enrs [][]byte) (*ContentMessage, error) {
	if err := checkByteLists(enrs, MaxEnrs, MaxEnrSize); err != nil {
		return nil, err
	}
	return &ContentMessage{Payload: &Enrs{Enrs: enrs}}, nil
}

func NewOffer(contentKeys [][]byte) (*Offer, error) {
	if len(contentKeys) == 0 {
		return nil, fmt.Errorf("%w: no content keys", ErrEmptyItem)
	}
	if err := checkByteLists(contentKeys, MaxContentKeys, MaxContentKeySize); err != nil {
		return nil, err
	}
	return &Offer{ContentKeys: contentKeys}, nil
}
