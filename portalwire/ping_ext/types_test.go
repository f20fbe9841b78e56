package pingext

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/protolambda/zrnt/eth2/beacon/common"
	"github.com/stretchr/testify/require"
)

func radiusMinusOne() []byte {
	r := new(uint256.Int).SubUint64(new(uint256.Int).SetAllOne(), 1)
	return RadiusBytes(r)
}

func TestClientInfoAndCapabilitiesPayloadSsz(t *testing.T) {
	testcases := []struct {
		clientInfo string
		expected   string
	}{
		{
			clientInfo: "trin/v0.1.1-b61fdc5c/linux-x86_64/rustc1.81.0",
			expected:   "0x28000000feffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff550000007472696e2f76302e312e312d62363166646335632f6c696e75782d7838365f36342f7275737463312e38312e3000000100ffff",
		},
		{
			clientInfo: "",
			expected:   "0x28000000feffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff2800000000000100ffff",
		},
	}
	for _, tc := range testcases {
		payload := &ClientInfoAndCapabilitiesPayload{
			ClientInfo:   ClientInfoBytes(tc.clientInfo),
			DataRadius:   common.Root(radiusMinusOne()),
			Capabilities: NewCapabilities([]uint16{0, 1, 65535}),
		}
		data, err := payload.MarshalSSZ()
		require.NoError(t, err)
		require.Equal(t, tc.expected, hexutil.Encode(data))

		decoded, err := Decode(ClientInfo, data)
		require.NoError(t, err)
		info := decoded.(*ClientInfoAndCapabilitiesPayload)
		require.Equal(t, tc.clientInfo, string(info.ClientInfo))
		require.Equal(t, []uint16{0, 1, 65535}, info.Capabilities.Types())
	}
}

func TestErrorPayloadBytes(t *testing.T) {
	messages := map[uint16]string{
		ErrorNotSupported:  "extension is not supported",
		ErrorDataNotFound:  "requested data not found",
		ErrorDecodePayload: "failed to decode payload",
		ErrorSystemError:   "system error",
	}
	for code, msg := range messages {
		encoded, err := NewErrorPayload(code, msg).MarshalSSZ()
		require.NoError(t, err)
		require.Equal(t, GetErrorPayloadBytes(code), encoded)

		decoded, err := Decode(Error, encoded)
		require.NoError(t, err)
		ep := decoded.(*ErrorPayload)
		require.Equal(t, code, uint16(ep.ErrorCode))
		require.Equal(t, msg, string(ep.Message))
	}
	require.Empty(t, GetErrorPayloadBytes(42))
}

func TestDecodeUnknownType(t *testing.T) {
	decoded, err := Decode(7, []byte{0x01, 0x02})
	require.NoError(t, err)
	unsupported, ok := decoded.(*UnsupportedPayload)
	require.True(t, ok)
	require.Equal(t, uint16(7), unsupported.Type())
	require.Equal(t, []byte{0x01, 0x02}, unsupported.Raw)

	_, ok = Radius(decoded)
	require.False(t, ok)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode(ClientInfo, []byte{0x01, 0x02, 0x03})
	require.Error(t, err)
	_, err = Decode(BasicRadius, make([]byte, 31))
	require.Error(t, err)
}

func TestRadius(t *testing.T) {
	radius := uint256.NewInt(123456)
	payloads := []interface{ MarshalSSZ() ([]byte, error) }{
		NewClientInfoAndCapabilitiesPayload(RadiusBytes(radius), []uint16{ClientInfo}),
		NewBasicRadiusPayload(RadiusBytes(radius)),
		NewHistoryRadiusPayload(RadiusBytes(radius), 3),
	}
	types := []uint16{ClientInfo, BasicRadius, HistoryRadius}
	for i, p := range payloads {
		data, err := p.MarshalSSZ()
		require.NoError(t, err)
		decoded, err := Decode(types[i], data)
		require.NoError(t, err)
		got, ok := Radius(decoded)
		require.True(t, ok)
		require.Equal(t, radius, got)
	}
}

func TestJsonConversion(t *testing.T) {
	radius := hexutil.Encode(RadiusBytes(uint256.NewInt(1)))
	data, err := JsonTypeToSszBytes(HistoryRadius, []byte(`{"dataRadius":"`+radius+`","ephemeralHeaderCount":5}`))
	require.NoError(t, err)

	res, err := SszBytesToJson(HistoryRadius, data)
	require.NoError(t, err)
	require.Equal(t, HistoryRadiusPayloadJson{DataRadius: radius, EphemeralHeaderCount: 5}, res)

	_, err = JsonTypeToSszBytes(BasicRadius, []byte(`{"dataRadius":"0x01"}`))
	require.ErrorIs(t, err, ErrPayloadDecode{})

	_, err = JsonTypeToSszBytes(9, []byte(`{}`))
	require.ErrorIs(t, err, ErrPayloadTypeIsNotSupported{})
}
