package portalwire

import (
	"errors"
	"fmt"

	ssz "github.com/ferranbt/fastssz"
	"github.com/prysmaticlabs/go-bitfield"
)

type AcceptCode uint8

const (
	Accepted AcceptCode = iota
	GenericDeclined
	AlreadyStored
	NotWithinRadius
	RateLimited               // rate limit reached. Node can't handle anymore connections
	InboundTransferInProgress // the content id is already being transferred to this node
	Unspecified
)

var ErrAcceptFieldLength = errors.New("accept field length does not match the offered keys")

func (c AcceptCode) String() string {
	switch c {
	case Accepted:
		return "accepted"
	case GenericDeclined:
		return "declined"
	case AlreadyStored:
		return "already_stored"
	case NotWithinRadius:
		return "not_within_radius"
	case RateLimited:
		return "rate_limited"
	case InboundTransferInProgress:
		return "inbound_transfer_in_progress"
	default:
		return fmt.Sprintf("unspecified(%d)", uint8(c))
	}
}

// AcceptMessage is the version independent form of an ACCEPT response.
// Version selects the encoding of the accept field on the wire: a bitlist for
// version 0, one code byte per key from version 1 on.
type AcceptMessage struct {
	ConnectionId []byte
	Codes        []AcceptCode
	Version      uint8
}

// NewAccept builds an accept message, connId may be nil when nothing is accepted.
func NewAccept(connId []byte, codes []AcceptCode, version uint8) (*AcceptMessage, error) {
	if len(codes) > MaxContentKeys {
		return nil, fmt.Errorf("%w: %d accept codes, max %d", ErrListTooLong, len(codes), MaxContentKeys)
	}
	if connId == nil {
		connId = []byte{0, 0}
	}
	if len(connId) != ConnectionIdSize {
		return nil, fmt.Errorf("%w: connection id of %d bytes", ErrInvalidConnectionId, len(connId))
	}
	return &AcceptMessage{ConnectionId: connId, Codes: codes, Version: version}, nil
}

// AcceptedCount returns how many keys the peer is willing to receive.
func (a *AcceptMessage) AcceptedCount() int {
	n := 0
	for _, c := range a.Codes {
		if c == Accepted {
			n++
		}
	}
	return n
}

// Validate checks the accept field against the number of keys that were offered.
func (a *AcceptMessage) Validate(offered int) error {
	if len(a.Codes) != offered {
		return fmt.Errorf("%w: got %d, offered %d", ErrAcceptFieldLength, len(a.Codes), offered)
	}
	return nil
}

func (a *AcceptMessage) wire() (ssz.Marshaler, error) {
	field, err := encodeAcceptField(a.Codes, a.Version)
	if err != nil {
		return nil, err
	}
	if a.Version == 0 {
		return &Accept{ConnectionId: a.ConnectionId, ContentKeys: field}, nil
	}
	return &AcceptV1{ConnectionId: a.ConnectionId, ContentKeys: field}, nil
}

func (a *AcceptMessage) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(a)
}

func (a *AcceptMessage) MarshalSSZTo(buf []byte) ([]byte, error) {
	w, err := a.wire()
	if err != nil {
		return nil, err
	}
	return w.MarshalSSZTo(buf)
}

func (a *AcceptMessage) SizeSSZ() int {
	if a.Version == 0 {
		return 6 + len(a.Codes)/8 + 1
	}
	return 6 + len(a.Codes)
}

// UnmarshalSSZ decodes an accept using the encoding selected by a.Version.
func (a *AcceptMessage) UnmarshalSSZ(buf []byte) error {
	var (
		connId []byte
		field  []byte
	)
	if a.Version == 0 {
		var v0 Accept
		if err := v0.UnmarshalSSZ(buf); err != nil {
			return err
		}
		connId, field = v0.ConnectionId, v0.ContentKeys
	} else {
		var v1 AcceptV1
		if err := v1.UnmarshalSSZ(buf); err != nil {
			return err
		}
		connId, field = v1.ConnectionId, v1.ContentKeys
	}
	codes, err := decodeAcceptField(field, a.Version)
	if err != nil {
		return err
	}
	a.ConnectionId = connId
	a.Codes = codes
	return nil
}

// encodeAcceptField renders accept codes in the wire form of the given
// protocol version. Version 0 can only express accepted or not: every code
// other than Accepted becomes an unset bit.
func encodeAcceptField(codes []AcceptCode, version uint8) ([]byte, error) {
	if len(codes) > MaxContentKeys {
		return nil, fmt.Errorf("%w: %d accept codes, max %d", ErrListTooLong, len(codes), MaxContentKeys)
	}
	if version == 0 {
		bl := bitfield.NewBitlist(uint64(len(codes)))
		for i, c := range codes {
			if c == Accepted {
				bl.SetBitAt(uint64(i), true)
			}
		}
		return bl, nil
	}
	field := make([]byte, len(codes))
	for i, c := range codes {
		field[i] = byte(c)
	}
	return field, nil
}

// decodeAcceptField is the inverse of encodeAcceptField. An unset version 0
// bit decodes to GenericDeclined.
func decodeAcceptField(field []byte, version uint8) ([]AcceptCode, error) {
	if version == 0 {
		if err := ssz.ValidateBitlist(field, MaxContentKeys); err != nil {
			return nil, fmt.Errorf("invalid accept bitlist: %w", err)
		}
		bl := bitfield.Bitlist(field)
		codes := make([]AcceptCode, bl.Len())
		for i := range codes {
			if bl.BitAt(uint64(i)) {
				codes[i] = Accepted
			} else {
				codes[i] = GenericDeclined
			}
		}
		return codes, nil
	}
	if len(field) > MaxContentKeys {
		return nil, fmt.Errorf("%w: %d accept codes, max %d", ErrListTooLong, len(field), MaxContentKeys)
	}
	codes := make([]AcceptCode, len(field))
	for i, b := range field {
		codes[i] = AcceptCode(b)
	}
	return codes, nil
}
