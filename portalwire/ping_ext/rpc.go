package pingext

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type ClientInfoAndCapabilitiesPayloadJson struct {
	ClientInfo   string   `json:"clientInfo"`
	DataRadius   string   `json:"dataRadius"`
	Capabilities []uint16 `json:"capabilities"`
}

type BasicRadiusPayloadJson struct {
	DataRadius string `json:"dataRadius"`
}

type HistoryRadiusPayloadJson struct {
	DataRadius           string `json:"dataRadius"`
	EphemeralHeaderCount uint16 `json:"ephemeralHeaderCount"`
}

type ErrorPayloadJson struct {
	ErrorCode uint16 `json:"errorCode"`
	Message   string `json:"message"`
}

type ErrPayloadTypeIsNotSupported struct{}

func (p ErrPayloadTypeIsNotSupported) Error() string {
	return "Payload type not supported"
}

func (p ErrPayloadTypeIsNotSupported) ErrorCode() int {
	return -39004
}

type ErrPayloadDecode struct{}

func (p ErrPayloadDecode) Error() string {
	return "Failed to decode payload"
}

func (p ErrPayloadDecode) ErrorCode() int {
	return -39005
}

type ErrPayloadRequired struct{}

func (p ErrPayloadRequired) Error() string {
	return "Payload type is required if payload is specified"
}

func (p ErrPayloadRequired) ErrorCode() int {
	return -39006
}

// JsonTypeToSszBytes parses an RPC json payload of the given type into its
// ssz encoding.
func JsonTypeToSszBytes(payloadType uint16, payload []byte) ([]byte, error) {
	switch payloadType {
	case ClientInfo:
		data := new(ClientInfoAndCapabilitiesPayloadJson)
		if err := json.Unmarshal(payload, data); err != nil {
			return nil, ErrPayloadDecode{}
		}
		dataRadius, err := hexutil.Decode(data.DataRadius)
		if err != nil || len(dataRadius) != 32 {
			return nil, ErrPayloadDecode{}
		}
		clientInfo := NewClientInfoAndCapabilitiesPayload(dataRadius, data.Capabilities)
		if data.ClientInfo != "" {
			clientInfo.ClientInfo = ClientInfoBytes(data.ClientInfo)
		}
		return clientInfo.MarshalSSZ()
	case BasicRadius:
		data := new(BasicRadiusPayloadJson)
		if err := json.Unmarshal(payload, data); err != nil {
			return nil, ErrPayloadDecode{}
		}
		dataRadius, err := hexutil.Decode(data.DataRadius)
		if err != nil || len(dataRadius) != 32 {
			return nil, ErrPayloadDecode{}
		}
		basic := NewBasicRadiusPayload(dataRadius)
		return basic.MarshalSSZ()
	case HistoryRadius:
		data := new(HistoryRadiusPayloadJson)
		if err := json.Unmarshal(payload, data); err != nil {
			return nil, ErrPayloadDecode{}
		}
		dataRadius, err := hexutil.Decode(data.DataRadius)
		if err != nil || len(dataRadius) != 32 {
			return nil, ErrPayloadDecode{}
		}
		history := NewHistoryRadiusPayload(dataRadius, data.EphemeralHeaderCount)
		return history.MarshalSSZ()
	default:
		return nil, ErrPayloadTypeIsNotSupported{}
	}
}

// SszBytesToJson is the inverse of JsonTypeToSszBytes, used to render pong
// payloads over RPC.
func SszBytesToJson(payloadType uint16, payload []byte) (interface{}, error) {
	decoded, err := Decode(payloadType, payload)
	if err != nil {
		return nil, ErrPayloadDecode{}
	}
	switch p := decoded.(type) {
	case *ClientInfoAndCapabilitiesPayload:
		return ClientInfoAndCapabilitiesPayloadJson{
			ClientInfo:   string(p.ClientInfo),
			DataRadius:   hexutil.Encode(p.DataRadius[:]),
			Capabilities: p.Capabilities.Types(),
		}, nil
	case *BasicRadiusPayload:
		return BasicRadiusPayloadJson{
			DataRadius: hexutil.Encode(p.DataRadius[:]),
		}, nil
	case *HistoryRadiusPayload:
		return HistoryRadiusPayloadJson{
			DataRadius:           hexutil.Encode(p.DataRadius[:]),
			EphemeralHeaderCount: uint16(p.EphemeralHeaderCount),
		}, nil
	case *ErrorPayload:
		return ErrorPayloadJson{
			ErrorCode: uint16(p.ErrorCode),
			Message:   string(p.Message),
		}, nil
	default:
		return nil, ErrPayloadTypeIsNotSupported{}
	}
}

// GetDataRadiusByType returns the raw radius bytes of a radius carrying payload.
func GetDataRadiusByType(payloadType uint16, payload []byte) ([]byte, error) {
	decoded, err := Decode(payloadType, payload)
	if err != nil {
		return nil, err
	}
	switch p := decoded.(type) {
	case *ClientInfoAndCapabilitiesPayload:
		return p.DataRadius[:], nil
	case *BasicRadiusPayload:
		return p.DataRadius[:], nil
	case *HistoryRadiusPayload:
		return p.DataRadius[:], nil
	default:
		return nil, ErrPayloadTypeIsNotSupported{}
	}
}
