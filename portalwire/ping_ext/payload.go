package pingext

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Payload is a decoded ping/pong extension payload. The concrete type is one
// of *ClientInfoAndCapabilitiesPayload, *BasicRadiusPayload,
// *HistoryRadiusPayload, *ErrorPayload or *UnsupportedPayload.
type Payload interface {
	Type() uint16
	payload()
}

// UnsupportedPayload keeps the raw bytes of an extension type this node
// does not know.
type UnsupportedPayload struct {
	PayloadType uint16
	Raw         []byte
}

func (*ClientInfoAndCapabilitiesPayload) Type() uint16 { return ClientInfo }
func (*BasicRadiusPayload) Type() uint16               { return BasicRadius }
func (*HistoryRadiusPayload) Type() uint16             { return HistoryRadius }
func (*ErrorPayload) Type() uint16                     { return Error }
func (u *UnsupportedPayload) Type() uint16             { return u.PayloadType }

func (*ClientInfoAndCapabilitiesPayload) payload() {}
func (*BasicRadiusPayload) payload()               {}
func (*HistoryRadiusPayload) payload()             {}
func (*ErrorPayload) payload()                     {}
func (*UnsupportedPayload) payload()               {}

// Decode parses an extension payload of the given type. Unknown types never
// fail: they come back as *UnsupportedPayload.
func Decode(payloadType uint16, data []byte) (Payload, error) {
	var p interface {
		Payload
		UnmarshalSSZ([]byte) error
	}
	switch payloadType {
	case ClientInfo:
		p = new(ClientInfoAndCapabilitiesPayload)
	case BasicRadius:
		p = new(BasicRadiusPayload)
	case HistoryRadius:
		p = new(HistoryRadiusPayload)
	case Error:
		p = new(ErrorPayload)
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return &UnsupportedPayload{PayloadType: payloadType, Raw: raw}, nil
	}
	if len(data) > CustomPayloadExtensionsFormatPayloadLimit {
		return nil, fmt.Errorf("payload type %d: %d bytes exceeds limit", payloadType, len(data))
	}
	if err := p.UnmarshalSSZ(data); err != nil {
		return nil, fmt.Errorf("payload type %d: %w", payloadType, err)
	}
	return p, nil
}

// Radius extracts the data radius a payload advertises.
func Radius(p Payload) (*uint256.Int, bool) {
	var root []byte
	switch v := p.(type) {
	case *ClientInfoAndCapabilitiesPayload:
		root = v.DataRadius[:]
	case *BasicRadiusPayload:
		root = v.DataRadius[:]
	case *HistoryRadiusPayload:
		root = v.DataRadius[:]
	default:
		return nil, false
	}
	radius := new(uint256.Int)
	if err := radius.UnmarshalSSZ(root); err != nil {
		return nil, false
	}
	return radius, true
}
