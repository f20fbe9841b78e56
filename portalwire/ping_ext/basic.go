package pingext

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/protolambda/ztyp/codec"
	"github.com/protolambda/ztyp/view"
	"github.com/zen-eth/portalnode/internal/version"
)

const (
	ClientInfo    uint16 = 0
	BasicRadius   uint16 = 1
	HistoryRadius uint16 = 2
	Error         uint16 = 65535
)

const (
	ErrorNotSupported  uint16 = 0
	ErrorDataNotFound  uint16 = 1
	ErrorDecodePayload uint16 = 2
	ErrorSystemError   uint16 = 3
)

var errPayloadMap = map[uint16]string{
	ErrorNotSupported:  "0x000006000000657874656e73696f6e206973206e6f7420737570706f72746564",
	ErrorDataNotFound:  "0x0100060000007265717565737465642064617461206e6f7420666f756e64",
	ErrorDecodePayload: "0x0200060000006661696c656420746f206465636f6465207061796c6f6164",
	ErrorSystemError:   "0x03000600000073797374656d206572726f72",
}

// GetErrorPayloadBytes returns the encoded error payload of a well known
// error code, or an empty slice for unknown codes.
func GetErrorPayloadBytes(code uint16) []byte {
	data, exist := errPayloadMap[code]
	if !exist {
		return []byte{}
	}
	return hexutil.MustDecode(data)
}

type PingExtension interface {
	// IsSupported reports whether the extension type is handled.
	IsSupported(ext uint16) bool
	// Extensions returns all handled extension types.
	Extensions() []uint16
}

// RadiusBytes encodes a radius the way it travels in ping payloads.
func RadiusBytes(radius *uint256.Int) []byte {
	b, _ := radius.MarshalSSZ()
	return b
}

func NewClientInfoAndCapabilitiesPayload(radius []byte, capabilities []uint16) ClientInfoAndCapabilitiesPayload {
	return ClientInfoAndCapabilitiesPayload{
		ClientInfo:   ClientInfoBytes(version.ClientInfo()),
		DataRadius:   common.Root(radius),
		Capabilities: NewCapabilities(capabilities),
	}
}

func NewBasicRadiusPayload(radius []byte) BasicRadiusPayload {
	return BasicRadiusPayload{
		DataRadius: common.Root(radius),
	}
}

func NewHistoryRadiusPayload(radius []byte, count uint16) HistoryRadiusPayload {
	return HistoryRadiusPayload{
		DataRadius:           common.Root(radius),
		EphemeralHeaderCount: view.Uint16View(count),
	}
}

func NewErrorPayload(code uint16, message string) ErrorPayload {
	return ErrorPayload{
		ErrorCode: view.Uint16View(code),
		Message:   ErrMessage(message),
	}
}

type ClientInfoAndCapabilitiesPayload struct {
	ClientInfo   ClientInfoBytes
	DataRadius   common.Root
	Capabilities CapabilitiesPayload
}

type BasicRadiusPayload struct {
	DataRadius common.Root
}

type HistoryRadiusPayload struct {
	DataRadius           common.Root
	EphemeralHeaderCount view.Uint16View
}

type ErrorPayload struct {
	ErrorCode view.Uint16View
	Message   ErrMessage
}

func marshal(s codec.Serializable) ([]byte, error) {
	var buf bytes.Buffer
	err := s.Serialize(codec.NewEncodingWriter(&buf))
	return buf.Bytes(), err
}

func unmarshal(d codec.Deserializable, data []byte) error {
	return d.Deserialize(codec.NewDecodingReader(bytes.NewReader(data), uint64(len(data))))
}

func (client *ClientInfoAndCapabilitiesPayload) Deserialize(dr *codec.DecodingReader) error {
	return dr.Container(&client.ClientInfo, &client.DataRadius, &client.Capabilities)
}

func (client ClientInfoAndCapabilitiesPayload) Serialize(w *codec.EncodingWriter) error {
	return w.Container(&client.ClientInfo, &client.DataRadius, &client.Capabilities)
}

func (client ClientInfoAndCapabilitiesPayload) ByteLength() uint64 {
	return codec.ContainerLength(&client.ClientInfo, &client.DataRadius, &client.Capabilities)
}

func (client *ClientInfoAndCapabilitiesPayload) FixedLength() uint64 {
	return 0
}

func (client ClientInfoAndCapabilitiesPayload) MarshalSSZ() ([]byte, error) {
	return marshal(&client)
}

func (client *ClientInfoAndCapabilitiesPayload) UnmarshalSSZ(data []byte) error {
	return unmarshal(client, data)
}

func (basic *BasicRadiusPayload) Deserialize(dr *codec.DecodingReader) error {
	return dr.FixedLenContainer(&basic.DataRadius)
}

func (basic BasicRadiusPayload) Serialize(w *codec.EncodingWriter) error {
	return w.FixedLenContainer(&basic.DataRadius)
}

func (basic BasicRadiusPayload) ByteLength() uint64 {
	return codec.ContainerLength(&basic.DataRadius)
}

func (basic *BasicRadiusPayload) FixedLength() uint64 {
	return 32
}

func (basic BasicRadiusPayload) MarshalSSZ() ([]byte, error) {
	return marshal(&basic)
}

func (basic *BasicRadiusPayload) UnmarshalSSZ(data []byte) error {
	return unmarshal(basic, data)
}

func (his *HistoryRadiusPayload) Deserialize(dr *codec.DecodingReader) error {
	return dr.Container(&his.DataRadius, &his.EphemeralHeaderCount)
}

func (his HistoryRadiusPayload) Serialize(w *codec.EncodingWriter) error {
	return w.Container(&his.DataRadius, &his.EphemeralHeaderCount)
}

func (his HistoryRadiusPayload) ByteLength() uint64 {
	return codec.ContainerLength(&his.DataRadius, &his.EphemeralHeaderCount)
}

func (his *HistoryRadiusPayload) FixedLength() uint64 {
	return 34
}

func (his HistoryRadiusPayload) MarshalSSZ() ([]byte, error) {
	return marshal(&his)
}

func (his *HistoryRadiusPayload) UnmarshalSSZ(data []byte) error {
	return unmarshal(his, data)
}

func (ep *ErrorPayload) Deserialize(dr *codec.DecodingReader) error {
	return dr.Container(&ep.ErrorCode, &ep.Message)
}

func (ep ErrorPayload) Serialize(w *codec.EncodingWriter) error {
	return w.Container(&ep.ErrorCode, &ep.Message)
}

func (ep ErrorPayload) ByteLength() uint64 {
	return codec.ContainerLength(&ep.ErrorCode, &ep.Message)
}

func (ep *ErrorPayload) FixedLength() uint64 {
	return 0
}

func (ep ErrorPayload) MarshalSSZ() ([]byte, error) {
	return marshal(&ep)
}

func (ep *ErrorPayload) UnmarshalSSZ(data []byte) error {
	return unmarshal(ep, data)
}
