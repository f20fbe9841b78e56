// Copyright 2019 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package portalwire

import (
	"bytes"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"

	"github.com/tetratelabs/wabin/leb128"
)

var errInsufficientData = errors.New("insufficient data for content length")

type randomSource interface {
	Intn(int) int
	Int63n(int64) int64
	Shuffle(int, func(int, int))
}

// reseedingRandom is a random number generator that tracks when it was last re-seeded.
type reseedingRandom struct {
	mu  sync.Mutex
	cur *rand.Rand
}

func (r *reseedingRandom) seed() {
	var b [8]byte
	_, _ = crand.Read(b[:])
	seed := binary.BigEndian.Uint64(b[:])
	new := rand.New(rand.NewSource(int64(seed)))

	r.mu.Lock()
	r.cur = new
	r.mu.Unlock()
}

func (r *reseedingRandom) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur.Intn(n)
}

func (r *reseedingRandom) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur.Int63n(n)
}

func (r *reseedingRandom) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur.Shuffle(n, swap)
}

// encodeSingleContent prefixes data with its leb128 encoded length.
func encodeSingleContent(data []byte) []byte {
	contentLen := uint32(len(data))
	contentLenBytes := leb128.EncodeUint32(contentLen)
	return append(contentLenBytes, data...)
}

func decodeSingleContent(data []byte) (content []byte, remaining []byte, err error) {
	reader := bytes.NewReader(data)
	contentLen, bytesRead, err := leb128.DecodeUint32(reader)
	if err != nil {
		return nil, data, err
	}

	headerSize := int(bytesRead)
	if len(data) < headerSize+int(contentLen) {
		return nil, data, errInsufficientData
	}

	content = data[headerSize : headerSize+int(contentLen)]
	remaining = data[headerSize+int(contentLen):]
	return content, remaining, nil
}

// encodeContents concatenates length prefixed items, the framing used for
// offered content sent over a transfer channel.
func encodeContents(contents [][]byte) []byte {
	size := 0
	for _, c := range contents {
		size += len(c) + 5
	}
	res := make([]byte, 0, size)
	for _, content := range contents {
		res = append(res, encodeSingleContent(content)...)
	}
	return res
}

func decodeContents(payload []byte) ([][]byte, error) {
	contents := make([][]byte, 0)
	for len(payload) > 0 {
		content, remaining, err := decodeSingleContent(payload)
		if err != nil {
			return nil, err
		}
		item := make([]byte, len(content))
		copy(item, content)
		contents = append(contents, item)
		payload = remaining
	}
	return contents, nil
}
