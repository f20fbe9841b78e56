package portalwire

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/p2p/enode"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	assert "github.com/stretchr/testify/require"
	pingext "github.com/zen-eth/portalnode/portalwire/ping_ext"
	"github.com/zen-eth/portalnode/storage"
)

func randomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	assert.NoError(t, err)
	return b
}

func TestPingExchangesRadius(t *testing.T) {
	network := newFakeNetwork()
	radiusA := uint256.NewInt(1 << 40)
	radiusB := uint256.NewInt(1 << 50)
	a := network.newNode(t, withRadius(radiusA))
	b := network.newNode(t, withRadius(radiusB))

	pong, err := a.Ping(context.Background(), b.Self())
	assert.NoError(t, err)
	assert.NotNil(t, pong)
	assert.Equal(t, pingext.ClientInfo, pong.PayloadType)
	assert.Equal(t, b.Self().Seq(), pong.EnrSeq)

	assert.NotNil(t, a.GetNode(b.Self().ID()))
	got, ok := a.NodeRadius(b.Self().ID())
	assert.True(t, ok)
	assert.Equal(t, radiusB, got)

	// the responder learns the requester and its radius too
	assert.NotNil(t, b.GetNode(a.Self().ID()))
	got, ok = b.NodeRadius(a.Self().ID())
	assert.True(t, ok)
	assert.Equal(t, radiusA, got)
}

func TestPingExtensionErrors(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)

	basic := pingext.NewBasicRadiusPayload(pingext.RadiusBytes(a.Radius()))
	basicBytes, err := basic.MarshalSSZ()
	assert.NoError(t, err)

	tests := []struct {
		name        string
		payloadType uint16
		payload     []byte
		errorCode   uint16
	}{
		{name: "not supported by history", payloadType: pingext.BasicRadius, payload: basicBytes, errorCode: pingext.ErrorNotSupported},
		{name: "unknown type", payloadType: 42, payload: []byte{1, 2}, errorCode: pingext.ErrorNotSupported},
		{name: "undecodable payload", payloadType: pingext.HistoryRadius, payload: []byte{1, 2, 3}, errorCode: pingext.ErrorDecodePayload},
		{name: "error payload as request", payloadType: pingext.Error, payload: pingext.GetErrorPayloadBytes(pingext.ErrorDataNotFound), errorCode: pingext.ErrorSystemError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pong, err := a.PingWithPayload(context.Background(), b.Self(), tt.payloadType, tt.payload)
			assert.NoError(t, err)
			assert.NotNil(t, pong)
			assert.Equal(t, pingext.Error, pong.PayloadType)
			assert.Equal(t, pingext.GetErrorPayloadBytes(tt.errorCode), pong.Payload)

			_, known := a.NodeRadius(b.Self().ID())
			assert.False(t, known, "an error pong must not set a radius")
		})
	}
}

func TestPingHistoryRadius(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t, withRadius(uint256.NewInt(77)))

	payload := pingext.NewHistoryRadiusPayload(pingext.RadiusBytes(a.Radius()), 0)
	data, err := payload.MarshalSSZ()
	assert.NoError(t, err)

	pong, err := a.PingWithPayload(context.Background(), b.Self(), pingext.HistoryRadius, data)
	assert.NoError(t, err)
	assert.Equal(t, pingext.HistoryRadius, pong.PayloadType)
	radius, ok := a.NodeRadius(b.Self().ID())
	assert.True(t, ok)
	assert.Equal(t, uint256.NewInt(77), radius)
}

func TestPingTimeoutForgetsPeer(t *testing.T) {
	network := newFakeNetwork()
	clock := new(mclock.Simulated)
	a := network.newNode(t, withClock(clock))
	b := network.newNode(t)

	a.knows(t, b)
	a.table.updateRadius(b.Self().ID(), uint256.NewInt(5))
	b.peer.goSilent(t)

	type result struct {
		pong *Pong
		err  error
	}
	done := make(chan result, 1)
	go func() {
		pong, err := a.Ping(context.Background(), b.Self())
		done <- result{pong, err}
	}()
	clock.WaitForTimers(1)
	clock.Run(defaultPingTimeout)

	select {
	case res := <-done:
		assert.NoError(t, res.err)
		assert.Nil(t, res.pong)
	case <-time.After(5 * time.Second):
		t.Fatal("ping did not time out")
	}
	assert.Nil(t, a.GetNode(b.Self().ID()))
	_, known := a.NodeRadius(b.Self().ID())
	assert.False(t, known)
}

func TestUnreachablePeerIsRemoved(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	stranger := newRandomNode(t)
	assert.True(t, a.AddEnr(stranger))

	nodes, err := a.FindNodes(context.Background(), stranger, []uint{256})
	assert.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Nil(t, a.GetNode(stranger.ID()))
}

func TestFindNodes(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	c := network.newNode(t)
	b.knows(t, c)

	dist := uint(enode.LogDist(b.Self().ID(), c.Self().ID()))
	nodes, err := a.FindNodes(context.Background(), b.Self(), []uint{dist})
	assert.NoError(t, err)
	assert.True(t, containsNode(nodes, c.Self().ID()))
	assert.NotNil(t, a.GetNode(b.Self().ID()))

	// distance zero is the record of the responder itself
	nodes, err = a.FindNodes(context.Background(), b.Self(), []uint{0})
	assert.NoError(t, err)
	assert.Len(t, nodes, 1)
	assert.Equal(t, b.Self().ID(), nodes[0].ID())

	// the requester never gets itself back
	distA := uint(enode.LogDist(b.Self().ID(), a.Self().ID()))
	nodes, err = a.FindNodes(context.Background(), b.Self(), []uint{distA})
	assert.NoError(t, err)
	assert.False(t, containsNode(nodes, a.Self().ID()))
}

func TestLookup(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	c := network.newNode(t)
	a.knows(t, b)
	b.knows(t, c)

	found := a.Lookup(context.Background(), c.Self().ID())
	assert.NotEmpty(t, found)
	assert.Equal(t, c.Self().ID(), found[0].ID())
	assert.True(t, containsNode(found, b.Self().ID()))

	resolved := a.ResolveNodeId(context.Background(), c.Self().ID())
	assert.NotNil(t, resolved)
	assert.Equal(t, c.Self().ID(), resolved.ID())
}

func TestNodesResponseFitsPacket(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	for i := 0; i < 80; i++ {
		b.AddEnr(newRandomNode(t))
	}

	nodes, err := a.FindNodes(context.Background(), b.Self(), []uint{256, 255, 254, 253})
	assert.NoError(t, err)
	assert.NotEmpty(t, nodes)
	assert.LessOrEqual(t, len(nodes), MaxEnrs)

	size := 0
	for _, n := range nodes {
		enc, err := rlp.EncodeToBytes(n.Record())
		assert.NoError(t, err)
		size += len(enc) + 4
	}
	assert.LessOrEqual(t, size, maxPacketSize-talkRespOverhead-6)
}

func TestFindContent(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	c := network.newNode(t)
	b.knows(t, c)

	small := []byte("small_key")
	smallContent := []byte("small content")
	assert.NoError(t, b.store.Put(small, storage.ContentIdFromKey(small), smallContent))

	large := []byte("large_key")
	largeContent := randomBytes(t, 1500)
	assert.NoError(t, b.store.Put(large, storage.ContentIdFromKey(large), largeContent))

	t.Run("inline", func(t *testing.T) {
		res, err := a.FindContent(context.Background(), b.Self(), small)
		assert.NoError(t, err)
		found, ok := res.(*FoundContent)
		assert.True(t, ok)
		assert.Equal(t, smallContent, found.Content)
		assert.False(t, found.UtpTransfer)
		assert.True(t, a.has(small))
	})

	t.Run("over connection", func(t *testing.T) {
		res, err := a.FindContent(context.Background(), b.Self(), large)
		assert.NoError(t, err)
		found, ok := res.(*FoundContent)
		assert.True(t, ok)
		assert.Equal(t, largeContent, found.Content)
		assert.True(t, found.UtpTransfer)
	})

	t.Run("closer nodes", func(t *testing.T) {
		res, err := a.FindContent(context.Background(), b.Self(), []byte("missing_key"))
		assert.NoError(t, err)
		closer, ok := res.(*CloserNodes)
		assert.True(t, ok)
		assert.True(t, containsNode(closer.Nodes, c.Self().ID()))
		assert.False(t, containsNode(closer.Nodes, a.Self().ID()))
	})

	t.Run("rate limited", func(t *testing.T) {
		b.peer.bulk.mu.Lock()
		b.peer.bulk.rateLimited = true
		b.peer.bulk.mu.Unlock()
		defer func() {
			b.peer.bulk.mu.Lock()
			b.peer.bulk.rateLimited = false
			b.peer.bulk.mu.Unlock()
		}()
		// the responder cannot answer, so the request yields no result
		res, err := a.FindContent(context.Background(), b.Self(), large)
		assert.NoError(t, err)
		assert.Nil(t, res)
	})
}

func TestOfferAcceptAllThenDeclineAll(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t, withVersions(Versions...))
	b := network.newNode(t, withVersions(Versions...))

	keys := [][]byte{[]byte("test_entry1"), []byte("test_entry2")}
	contents := [][]byte{[]byte("test_entry1_content"), []byte("test_entry2_content")}

	accept, err := a.Offer(context.Background(), b.Self(), keys, contents)
	assert.NoError(t, err)
	assert.Equal(t, uint8(1), accept.Version)
	assert.Equal(t, []AcceptCode{Accepted, Accepted}, accept.Codes)
	assert.Equal(t, 1, b.peer.bulk.openedCount())
	for i, key := range keys {
		got, err := b.store.Get(key, storage.ContentIdFromKey(key))
		assert.NoError(t, err)
		assert.Equal(t, contents[i], got)
	}

	accept, err = a.Offer(context.Background(), b.Self(), keys, contents)
	assert.NoError(t, err)
	assert.Equal(t, []AcceptCode{AlreadyStored, AlreadyStored}, accept.Codes)
	assert.Equal(t, 0, accept.AcceptedCount())
	assert.Equal(t, 1, b.peer.bulk.openedCount(), "nothing accepted, no channel")
}

func TestOfferVersion0(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)

	keys := [][]byte{[]byte("k1"), []byte("k2"), []byte("k3")}
	contents := [][]byte{[]byte("c1"), []byte("c2"), []byte("c3")}
	assert.NoError(t, b.store.Put(keys[1], storage.ContentIdFromKey(keys[1]), contents[1]))

	accept, err := a.Offer(context.Background(), b.Self(), keys, contents)
	assert.NoError(t, err)
	assert.Equal(t, uint8(0), accept.Version)
	// version 0 only says accepted or not
	assert.Equal(t, []AcceptCode{Accepted, GenericDeclined, Accepted}, accept.Codes)

	field, err := encodeAcceptField(accept.Codes, accept.Version)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x0d}, field)

	assert.True(t, b.has(keys[0]))
	assert.True(t, b.has(keys[2]))
}

func TestOfferDeclineReasons(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t, withVersions(Versions...))
	b := network.newNode(t, withVersions(Versions...), withRadius(uint256.NewInt(0)))

	keys := [][]byte{[]byte("far_key")}
	accept, err := a.Offer(context.Background(), b.Self(), keys, [][]byte{[]byte("content")})
	assert.NoError(t, err)
	assert.Equal(t, []AcceptCode{NotWithinRadius}, accept.Codes)
	assert.Equal(t, 0, b.peer.bulk.openedCount())

	c := network.newNode(t, withVersions(Versions...))
	busy := []byte("busy_key")
	c.inTransferMap.Store(string(storage.ContentIdFromKey(busy)), struct{}{})
	accept, err = a.Offer(context.Background(), c.Self(), [][]byte{busy, []byte("free_key")}, [][]byte{[]byte("x"), []byte("y")})
	assert.NoError(t, err)
	assert.Equal(t, []AcceptCode{InboundTransferInProgress, Accepted}, accept.Codes)
	assert.True(t, c.has([]byte("free_key")))
	assert.False(t, c.has(busy))
}

func TestOfferAcceptsAllAtMaxRadius(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t, withVersions(Versions...))
	b := network.newNode(t, withVersions(Versions...), withRadius(new(uint256.Int).SetAllOne()))

	keys := make([][]byte, 8)
	contents := make([][]byte, len(keys))
	for i := range keys {
		keys[i] = randomBytes(t, 33)
		contents[i] = randomBytes(t, 64)
	}
	accept, err := a.Offer(context.Background(), b.Self(), keys, contents)
	assert.NoError(t, err)
	for i, code := range accept.Codes {
		assert.Equal(t, Accepted, code, "key %d", i)
	}
	for _, key := range keys {
		assert.True(t, b.has(key))
	}
}

func TestPingUnknownNodesQueuesExtraPings(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	queried := network.newNode(t)

	var nodes []*enode.Node
	var peers []*testNode
	for i := 0; i < maxConcurrentPings+4; i++ {
		n := network.newNode(t)
		peers = append(peers, n)
		nodes = append(nodes, n.Self())
	}
	a.pingUnknownNodes(queried.Self(), nodes)

	assert.Eventually(t, func() bool {
		for _, n := range peers {
			if n.peer.count(PING) == 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, queried.peer.count(PING))
}

func TestOfferRateLimited(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t, withVersions(Versions...))
	b := network.newNode(t, withVersions(Versions...))
	b.peer.bulk.rateLimited = true

	keys := [][]byte{[]byte("k1"), []byte("k2")}
	contents := [][]byte{[]byte("c1"), []byte("c2")}
	accept, err := a.Offer(context.Background(), b.Self(), keys, contents)
	assert.NoError(t, err)
	assert.Equal(t, []AcceptCode{RateLimited, RateLimited}, accept.Codes)
	assert.False(t, b.has(keys[0]))

	// the claimed keys were released
	b.peer.bulk.mu.Lock()
	b.peer.bulk.rateLimited = false
	b.peer.bulk.mu.Unlock()
	accept, err = a.Offer(context.Background(), b.Self(), keys, contents)
	assert.NoError(t, err)
	assert.Equal(t, []AcceptCode{Accepted, Accepted}, accept.Codes)
}

func TestOfferHandlerFailureAnswersEmptyAccept(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t, withStorage(failingStorage{storage.NewMockStorage()}))

	_, err := a.Offer(context.Background(), b.Self(), [][]byte{[]byte("k")}, [][]byte{[]byte("c")})
	assert.ErrorIs(t, err, ErrAcceptFieldLength)
}

func TestOfferPreconditions(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)

	_, err := a.Offer(context.Background(), nil, [][]byte{{1}}, [][]byte{{1}})
	assert.ErrorIs(t, err, ErrNilNode)
	_, err = a.Offer(context.Background(), b.Self(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyContentKeys)
	_, err = a.Offer(context.Background(), b.Self(), [][]byte{{1}}, nil)
	assert.ErrorIs(t, err, ErrEmptyContents)
	_, err = a.Offer(context.Background(), b.Self(), [][]byte{{1}, {2}}, [][]byte{{1}})
	assert.ErrorIs(t, err, ErrContentKeysMismatch)
	assert.Equal(t, 0, b.peer.count(OFFER))
}

func TestOfferReadsStoredContent(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t, withVersions(Versions...))
	b := network.newNode(t, withVersions(Versions...))

	key := []byte("stored_key")
	assert.NoError(t, a.store.Put(key, storage.ContentIdFromKey(key), []byte("stored content")))

	accept, err := a.Offer(context.Background(), b.Self(), [][]byte{key}, [][]byte{nil})
	assert.NoError(t, err)
	assert.Equal(t, 1, accept.AcceptedCount())
	got, err := b.store.Get(key, storage.ContentIdFromKey(key))
	assert.NoError(t, err)
	assert.Equal(t, []byte("stored content"), got)
}

func TestGossip(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	var peers []*testNode
	for i := 0; i < 7; i++ {
		p := network.newNode(t)
		peers = append(peers, p)
		a.knows(t, p)
	}
	// three table entries that never answer
	for i := 0; i < 3; i++ {
		a.AddEnr(newRandomNode(t))
	}

	key, content := []byte("gossip_key"), []byte("gossip_content")
	count, err := a.Gossip(context.Background(), nil, [][]byte{key}, [][]byte{content})
	assert.NoError(t, err)
	assert.Equal(t, gossipClosestNodes+gossipFartherNodes, count)

	offered := 0
	for _, p := range peers {
		offered += p.peer.count(OFFER)
	}
	assert.LessOrEqual(t, offered, count)
	assert.GreaterOrEqual(t, offered, count-3)
}

func TestGossipSkipsSource(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	c := network.newNode(t)
	d := network.newNode(t)
	a.knows(t, b, c, d)

	src := b.Self().ID()
	key := []byte("k")
	count, err := a.Gossip(context.Background(), &src, [][]byte{key}, [][]byte{[]byte("v")})
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, b.peer.count(OFFER))
	assert.True(t, c.has(key))
	assert.True(t, d.has(key))

	_, err = a.Gossip(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyContentKeys)
}

func TestGossipSkipsPeersOutOfRadius(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t, withRadius(uint256.NewInt(0)))
	c := network.newNode(t)
	a.knows(t, b, c)
	a.table.updateRadius(b.Self().ID(), uint256.NewInt(0))

	count, err := a.Gossip(context.Background(), nil, [][]byte{[]byte("k")}, [][]byte{[]byte("v")})
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.peer.count(OFFER))
}

func TestPutContent(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	a.knows(t, b)

	key := []byte("put_key")
	res, err := a.PutContent(context.Background(), key, []byte("put_content"))
	assert.NoError(t, err)
	assert.True(t, res.StoredLocally)
	assert.Equal(t, 1, res.PeerCount)
	assert.True(t, a.has(key))
	assert.True(t, b.has(key))
}

func TestOfferedContentIsGossipedOn(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	c := network.newNode(t)
	b.knows(t, c)

	key := []byte("relay_key")
	_, err := a.Offer(context.Background(), b.Self(), [][]byte{key}, [][]byte{[]byte("relay")})
	assert.NoError(t, err)
	assert.True(t, b.has(key))
	assert.True(t, c.has(key))
	assert.Equal(t, 0, a.peer.count(OFFER), "content is never offered back to its source")
}

func TestGetContentLocal(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	key := []byte("local_key")
	assert.NoError(t, a.store.Put(key, storage.ContentIdFromKey(key), []byte("local")))

	res, err := a.GetContent(context.Background(), key)
	assert.NoError(t, err)
	assert.Equal(t, []byte("local"), res.Content)
	assert.Equal(t, a.Self().ID(), res.FoundAt.ID())

	_, err = a.GetContent(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrEmptyContentKey)
}

func TestGetContentEmptyEnrs(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	a.knows(t, b)

	_, err := a.GetContent(context.Background(), []byte("nowhere"))
	assert.ErrorIs(t, err, ErrContentNotFound)
	assert.Equal(t, 1, b.peer.count(FINDCONTENT))
}

func TestGetContentFollowsCloserNodes(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	c := network.newNode(t)
	a.knows(t, b)
	b.knows(t, c)

	key := []byte("remote_key")
	assert.NoError(t, c.store.Put(key, storage.ContentIdFromKey(key), []byte("remote")))

	res, err := a.GetContent(context.Background(), key)
	assert.NoError(t, err)
	assert.Equal(t, []byte("remote"), res.Content)
	assert.Equal(t, c.Self().ID(), res.FoundAt.ID())
	assert.True(t, a.has(key))
}

func TestTraceContentLookup(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	c := network.newNode(t)
	a.knows(t, b)
	b.knows(t, c)

	key := []byte("traced_key")
	assert.NoError(t, c.store.Put(key, storage.ContentIdFromKey(key), []byte("traced")))

	res, err := a.TraceContentLookup(context.Background(), key)
	assert.NoError(t, err)
	assert.Equal(t, hexutil.Encode([]byte("traced")), res.Content)
	assert.False(t, res.UtpTransfer)

	bId := "0x" + b.Self().ID().String()
	cId := "0x" + c.Self().ID().String()
	assert.Equal(t, "0x"+a.Self().ID().String(), res.Trace.Origin)
	assert.Equal(t, cId, res.Trace.ReceivedFrom)
	assert.Contains(t, res.Trace.Responses[bId].RespondedWith, cId)
	assert.Contains(t, res.Trace.Metadata, cId)
}

func TestTraceContentLookupNotFound(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	a.knows(t, b)

	res, err := a.TraceContentLookup(context.Background(), []byte("absent"))
	assert.ErrorIs(t, err, ErrContentNotFound)
	assert.NotNil(t, res)
	assert.Empty(t, res.Content)
	assert.Contains(t, res.Trace.Responses, "0x"+b.Self().ID().String())
}

func TestDeleteEnrForgetsRadius(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)

	_, err := a.Ping(context.Background(), b.Self())
	assert.NoError(t, err)
	_, ok := a.NodeRadius(b.Self().ID())
	assert.True(t, ok)

	assert.True(t, a.DeleteEnr(b.Self().ID()))
	assert.Nil(t, a.GetNode(b.Self().ID()))
	_, ok = a.NodeRadius(b.Self().ID())
	assert.False(t, ok)
	assert.False(t, a.DeleteEnr(b.Self().ID()))
}

func TestStopEndsRequests(t *testing.T) {
	network := newFakeNetwork()
	a := network.newNode(t)
	b := network.newNode(t)
	b.peer.goSilent(t)

	done := make(chan error, 1)
	go func() {
		_, err := a.Ping(context.Background(), b.Self())
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	a.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, errClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("request survived stop")
	}
}

func TestLookupDistances(t *testing.T) {
	var target enode.ID
	dest := target
	dest[0] ^= 0x80
	assert.Equal(t, []uint{256, 255, 254}, lookupDistances(target, dest))

	dest = target
	dest[31] ^= 0x01
	assert.Equal(t, []uint{1, 2, 3}, lookupDistances(target, dest))
}
