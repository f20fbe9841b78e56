package portalwire

import (
	ssz "github.com/ferranbt/fastssz"
	"github.com/prysmaticlabs/go-bitfield"
)

// Size limits of the wire containers.
const (
	MaxCustomPayloadSize = 2048
	MaxContentKeySize    = 2048
	MaxContentSize       = 2048
	MaxEnrSize           = 2048
	MaxEnrs              = 32
	MaxDistances         = 257
	MaxDistance          = 256
	MaxContentKeys       = 64
	ConnectionIdSize     = 2
)

// Ping is sent to learn the liveness and the data radius of a peer.
type Ping struct {
	EnrSeq      uint64
	PayloadType uint16
	Payload     []byte `ssz-max:"2048"`
}

// Pong mirrors Ping.
type Pong struct {
	EnrSeq      uint64
	PayloadType uint16
	Payload     []byte `ssz-max:"2048"`
}

type FindNodes struct {
	Distances [][2]byte `ssz-max:"257,2" ssz-size:"?,2"`
}

type Nodes struct {
	Total uint8
	Enrs  [][]byte `ssz-max:"32,2048"`
}

type FindContent struct {
	ContentKey []byte `ssz-max:"2048"`
}

// ConnectionId, Content and Enrs are the three variants of a CONTENT
// response. They are encoded without an enclosing container, the variant is
// carried by the selector byte in front of them.
type ConnectionId struct {
	Id []byte `ssz-size:"2"`
}

type Content struct {
	Content []byte `ssz-max:"2048"`
}

type Enrs struct {
	Enrs [][]byte `ssz-max:"32,2048"`
}

type Offer struct {
	ContentKeys [][]byte `ssz-max:"64,2048"`
}

// Accept carries the protocol version 0 accept field, one bit per offered key.
type Accept struct {
	ConnectionId []byte            `ssz-size:"2"`
	ContentKeys  bitfield.Bitlist `ssz:"bitlist" ssz-max:"64"`
}

// AcceptV1 carries one AcceptCode byte per offered key.
type AcceptV1 struct {
	ConnectionId []byte `ssz-size:"2"`
	ContentKeys  []byte `ssz-max:"64"`
}

func marshalPingLike(dst []byte, enrSeq uint64, payloadType uint16, payload []byte) ([]byte, error) {
	offset := 14
	dst = ssz.MarshalUint64(dst, enrSeq)
	dst = ssz.MarshalUint16(dst, payloadType)
	dst = ssz.WriteOffset(dst, offset)
	if size := len(payload); size > MaxCustomPayloadSize {
		return nil, ssz.ErrBytesLengthFn("Ping.Payload", size, MaxCustomPayloadSize)
	}
	dst = append(dst, payload...)
	return dst, nil
}

func unmarshalPingLike(buf []byte) (enrSeq uint64, payloadType uint16, payload []byte, err error) {
	size := uint64(len(buf))
	if size < 14 {
		return 0, 0, nil, ssz.ErrSize
	}
	enrSeq = ssz.UnmarshallUint64(buf[0:8])
	payloadType = ssz.UnmarshallUint16(buf[8:10])
	if o2 := ssz.ReadOffset(buf[10:14]); o2 != 14 {
		return 0, 0, nil, ssz.ErrOffset
	}
	tail := buf[14:]
	if len(tail) > MaxCustomPayloadSize {
		return 0, 0, nil, ssz.ErrBytesLength
	}
	payload = make([]byte, len(tail))
	copy(payload, tail)
	return enrSeq, payloadType, payload, nil
}

// MarshalSSZ ssz marshals the Ping object
func (p *Ping) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(p)
}

// MarshalSSZTo ssz marshals the Ping object to a target array
func (p *Ping) MarshalSSZTo(buf []byte) ([]byte, error) {
	return marshalPingLike(buf, p.EnrSeq, p.PayloadType, p.Payload)
}

// UnmarshalSSZ ssz unmarshals the Ping object
func (p *Ping) UnmarshalSSZ(buf []byte) (err error) {
	p.EnrSeq, p.PayloadType, p.Payload, err = unmarshalPingLike(buf)
	return err
}

// SizeSSZ returns the ssz encoded size in bytes for the Ping object
func (p *Ping) SizeSSZ() int {
	return 14 + len(p.Payload)
}

// MarshalSSZ ssz marshals the Pong object
func (p *Pong) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(p)
}

// MarshalSSZTo ssz marshals the Pong object to a target array
func (p *Pong) MarshalSSZTo(buf []byte) ([]byte, error) {
	return marshalPingLike(buf, p.EnrSeq, p.PayloadType, p.Payload)
}

// UnmarshalSSZ ssz unmarshals the Pong object
func (p *Pong) UnmarshalSSZ(buf []byte) (err error) {
	p.EnrSeq, p.PayloadType, p.Payload, err = unmarshalPingLike(buf)
	return err
}

// SizeSSZ returns the ssz encoded size in bytes for the Pong object
func (p *Pong) SizeSSZ() int {
	return 14 + len(p.Payload)
}

// MarshalSSZ ssz marshals the FindNodes object
func (f *FindNodes) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(f)
}

// MarshalSSZTo ssz marshals the FindNodes object to a target array
func (f *FindNodes) MarshalSSZTo(buf []byte) (dst []byte, err error) {
	dst = buf
	dst = ssz.WriteOffset(dst, 4)
	if size := len(f.Distances); size > MaxDistances {
		err = ssz.ErrListTooBigFn("FindNodes.Distances", size, MaxDistances)
		return
	}
	for ii := 0; ii < len(f.Distances); ii++ {
		dst = append(dst, f.Distances[ii][:]...)
	}
	return
}

// UnmarshalSSZ ssz unmarshals the FindNodes object
func (f *FindNodes) UnmarshalSSZ(buf []byte) error {
	size := uint64(len(buf))
	if size < 4 {
		return ssz.ErrSize
	}
	if o0 := ssz.ReadOffset(buf[0:4]); o0 != 4 {
		return ssz.ErrOffset
	}
	tail := buf[4:]
	if len(tail)%2 != 0 {
		return ssz.ErrSize
	}
	num := len(tail) / 2
	if num > MaxDistances {
		return ssz.ErrListTooBigFn("FindNodes.Distances", num, MaxDistances)
	}
	f.Distances = make([][2]byte, num)
	for ii := 0; ii < num; ii++ {
		copy(f.Distances[ii][:], tail[ii*2:(ii+1)*2])
	}
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the FindNodes object
func (f *FindNodes) SizeSSZ() int {
	return 4 + len(f.Distances)*2
}

func marshalByteLists(dst []byte, name string, lists [][]byte, maxItems, maxItemSize int) ([]byte, error) {
	if size := len(lists); size > maxItems {
		return nil, ssz.ErrListTooBigFn(name, size, maxItems)
	}
	offset := 4 * len(lists)
	for ii := 0; ii < len(lists); ii++ {
		dst = ssz.WriteOffset(dst, offset)
		offset += len(lists[ii])
	}
	for ii := 0; ii < len(lists); ii++ {
		if size := len(lists[ii]); size > maxItemSize {
			return nil, ssz.ErrBytesLengthFn(name, size, maxItemSize)
		}
		dst = append(dst, lists[ii]...)
	}
	return dst, nil
}

func unmarshalByteLists(buf []byte, maxItems, maxItemSize int) ([][]byte, error) {
	num, err := ssz.DecodeDynamicLength(buf, maxItems)
	if err != nil {
		return nil, err
	}
	lists := make([][]byte, num)
	err = ssz.UnmarshalDynamic(buf, num, func(indx int, buf []byte) error {
		if len(buf) > maxItemSize {
			return ssz.ErrBytesLength
		}
		lists[indx] = make([]byte, len(buf))
		copy(lists[indx], buf)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lists, nil
}

func byteListsSize(lists [][]byte) int {
	size := 0
	for _, l := range lists {
		size += 4 + len(l)
	}
	return size
}

// MarshalSSZ ssz marshals the Nodes object
func (n *Nodes) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(n)
}

// MarshalSSZTo ssz marshals the Nodes object to a target array
func (n *Nodes) MarshalSSZTo(buf []byte) ([]byte, error) {
	dst := append(buf, n.Total)
	dst = ssz.WriteOffset(dst, 5)
	return marshalByteLists(dst, "Nodes.Enrs", n.Enrs, MaxEnrs, MaxEnrSize)
}

// UnmarshalSSZ ssz unmarshals the Nodes object
func (n *Nodes) UnmarshalSSZ(buf []byte) (err error) {
	if len(buf) < 5 {
		return ssz.ErrSize
	}
	n.Total = buf[0]
	if o1 := ssz.ReadOffset(buf[1:5]); o1 != 5 {
		return ssz.ErrOffset
	}
	n.Enrs, err = unmarshalByteLists(buf[5:], MaxEnrs, MaxEnrSize)
	return err
}

// SizeSSZ returns the ssz encoded size in bytes for the Nodes object
func (n *Nodes) SizeSSZ() int {
	return 5 + byteListsSize(n.Enrs)
}

// MarshalSSZ ssz marshals the FindContent object
func (f *FindContent) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(f)
}

// MarshalSSZTo ssz marshals the FindContent object to a target array
func (f *FindContent) MarshalSSZTo(buf []byte) ([]byte, error) {
	dst := ssz.WriteOffset(buf, 4)
	if size := len(f.ContentKey); size > MaxContentKeySize {
		return nil, ssz.ErrBytesLengthFn("FindContent.ContentKey", size, MaxContentKeySize)
	}
	return append(dst, f.ContentKey...), nil
}

// UnmarshalSSZ ssz unmarshals the FindContent object
func (f *FindContent) UnmarshalSSZ(buf []byte) error {
	if len(buf) < 4 {
		return ssz.ErrSize
	}
	if o0 := ssz.ReadOffset(buf[0:4]); o0 != 4 {
		return ssz.ErrOffset
	}
	tail := buf[4:]
	if len(tail) > MaxContentKeySize {
		return ssz.ErrBytesLength
	}
	f.ContentKey = make([]byte, len(tail))
	copy(f.ContentKey, tail)
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the FindContent object
func (f *FindContent) SizeSSZ() int {
	return 4 + len(f.ContentKey)
}

// MarshalSSZ ssz marshals the ConnectionId object
func (c *ConnectionId) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(c)
}

// MarshalSSZTo ssz marshals the ConnectionId object to a target array
func (c *ConnectionId) MarshalSSZTo(buf []byte) ([]byte, error) {
	if size := len(c.Id); size != ConnectionIdSize {
		return nil, ssz.ErrBytesLengthFn("ConnectionId.Id", size, ConnectionIdSize)
	}
	return append(buf, c.Id...), nil
}

// UnmarshalSSZ ssz unmarshals the ConnectionId object
func (c *ConnectionId) UnmarshalSSZ(buf []byte) error {
	if len(buf) != ConnectionIdSize {
		return ssz.ErrSize
	}
	c.Id = make([]byte, ConnectionIdSize)
	copy(c.Id, buf)
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the ConnectionId object
func (c *ConnectionId) SizeSSZ() int {
	return ConnectionIdSize
}

// MarshalSSZ ssz marshals the Content object
func (c *Content) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(c)
}

// MarshalSSZTo ssz marshals the Content object to a target array
func (c *Content) MarshalSSZTo(buf []byte) ([]byte, error) {
	if size := len(c.Content); size > MaxContentSize {
		return nil, ssz.ErrBytesLengthFn("Content.Content", size, MaxContentSize)
	}
	return append(buf, c.Content...), nil
}

// UnmarshalSSZ ssz unmarshals the Content object
func (c *Content) UnmarshalSSZ(buf []byte) error {
	if len(buf) > MaxContentSize {
		return ssz.ErrBytesLength
	}
	c.Content = make([]byte, len(buf))
	copy(c.Content, buf)
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the Content object
func (c *Content) SizeSSZ() int {
	return len(c.Content)
}

// MarshalSSZ ssz marshals the Enrs object
func (e *Enrs) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(e)
}

// MarshalSSZTo ssz marshals the Enrs object to a target array
func (e *Enrs) MarshalSSZTo(buf []byte) ([]byte, error) {
	return marshalByteLists(buf, "Enrs.Enrs", e.Enrs, MaxEnrs, MaxEnrSize)
}

// UnmarshalSSZ ssz unmarshals the Enrs object
func (e *Enrs) UnmarshalSSZ(buf []byte) (err error) {
	e.Enrs, err = unmarshalByteLists(buf, MaxEnrs, MaxEnrSize)
	return err
}

// SizeSSZ returns the ssz encoded size in bytes for the Enrs object
func (e *Enrs) SizeSSZ() int {
	return byteListsSize(e.Enrs)
}

// MarshalSSZ ssz marshals the Offer object
func (o *Offer) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(o)
}

// MarshalSSZTo ssz marshals the Offer object to a target array
func (o *Offer) MarshalSSZTo(buf []byte) ([]byte, error) {
	dst := ssz.WriteOffset(buf, 4)
	return marshalByteLists(dst, "Offer.ContentKeys", o.ContentKeys, MaxContentKeys, MaxContentKeySize)
}

// UnmarshalSSZ ssz unmarshals the Offer object
func (o *Offer) UnmarshalSSZ(buf []byte) (err error) {
	if len(buf) < 4 {
		return ssz.ErrSize
	}
	if o0 := ssz.ReadOffset(buf[0:4]); o0 != 4 {
		return ssz.ErrOffset
	}
	o.ContentKeys, err = unmarshalByteLists(buf[4:], MaxContentKeys, MaxContentKeySize)
	return err
}

// SizeSSZ returns the ssz encoded size in bytes for the Offer object
func (o *Offer) SizeSSZ() int {
	return 4 + byteListsSize(o.ContentKeys)
}

// MarshalSSZ ssz marshals the Accept object
func (a *Accept) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(a)
}

// MarshalSSZTo ssz marshals the Accept object to a target array
func (a *Accept) MarshalSSZTo(buf []byte) ([]byte, error) {
	if size := len(a.ConnectionId); size != ConnectionIdSize {
		return nil, ssz.ErrBytesLengthFn("Accept.ConnectionId", size, ConnectionIdSize)
	}
	dst := append(buf, a.ConnectionId...)
	dst = ssz.WriteOffset(dst, 6)
	if err := ssz.ValidateBitlist(a.ContentKeys, MaxContentKeys); err != nil {
		return nil, err
	}
	return append(dst, a.ContentKeys...), nil
}

// UnmarshalSSZ ssz unmarshals the Accept object
func (a *Accept) UnmarshalSSZ(buf []byte) error {
	if len(buf) < 6 {
		return ssz.ErrSize
	}
	a.ConnectionId = make([]byte, ConnectionIdSize)
	copy(a.ConnectionId, buf[0:2])
	if o1 := ssz.ReadOffset(buf[2:6]); o1 != 6 {
		return ssz.ErrOffset
	}
	tail := buf[6:]
	if err := ssz.ValidateBitlist(tail, MaxContentKeys); err != nil {
		return err
	}
	a.ContentKeys = make(bitfield.Bitlist, len(tail))
	copy(a.ContentKeys, tail)
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the Accept object
func (a *Accept) SizeSSZ() int {
	return 6 + len(a.ContentKeys)
}

// MarshalSSZ ssz marshals the AcceptV1 object
func (a *AcceptV1) MarshalSSZ() ([]byte, error) {
	return ssz.MarshalSSZ(a)
}

// MarshalSSZTo ssz marshals the AcceptV1 object to a target array
func (a *AcceptV1) MarshalSSZTo(buf []byte) ([]byte, error) {
	if size := len(a.ConnectionId); size != ConnectionIdSize {
		return nil, ssz.ErrBytesLengthFn("AcceptV1.ConnectionId", size, ConnectionIdSize)
	}
	dst := append(buf, a.ConnectionId...)
	dst = ssz.WriteOffset(dst, 6)
	if size := len(a.ContentKeys); size > MaxContentKeys {
		return nil, ssz.ErrBytesLengthFn("AcceptV1.ContentKeys", size, MaxContentKeys)
	}
	return append(dst, a.ContentKeys...), nil
}

// UnmarshalSSZ ssz unmarshals the AcceptV1 object
func (a *AcceptV1) UnmarshalSSZ(buf []byte) error {
	if len(buf) < 6 {
		return ssz.ErrSize
	}
	a.ConnectionId = make([]byte, ConnectionIdSize)
	copy(a.ConnectionId, buf[0:2])
	if o1 := ssz.ReadOffset(buf[2:6]); o1 != 6 {
		return ssz.ErrOffset
	}
	tail := buf[6:]
	if len(tail) > MaxContentKeys {
		return ssz.ErrBytesLength
	}
	a.ContentKeys = make([]byte, len(tail))
	copy(a.ContentKeys, tail)
	return nil
}

// SizeSSZ returns the ssz encoded size in bytes for the AcceptV1 object
func (a *AcceptV1) SizeSSZ() int {
	return 6 + len(a.ContentKeys)
}
