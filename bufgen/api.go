// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package bufgen builds the read-only byte region every write is taken from
// and every verifying read is compared against.
package bufgen

import (
	"bytes"
	"fmt"
	"math/rand"
	"strconv"
)

const (
	// BiggestBufSizeBits is log2 of the largest record a workload writes
	BiggestBufSizeBits = 20
	// BiggestBufSize is the largest record a workload writes
	BiggestBufSize = 1 << BiggestBufSizeBits

	randomSegmentSizeBits = 10
	randomSegmentSize     = 1 << randomSegmentSizeBits

	// OffsetRange bounds the per-file starting offset returned by UniqueOffset()
	OffsetRange = 1024
)

// Buffer is BiggestBufSize bytes of generated data followed by a copy of its
// first OffsetRange bytes. It is never modified after Generate() returns and
// may be shared by any number of goroutines.
type Buffer struct {
	data []byte
}

// Generate returns a new Buffer whose contents are fully determined by r's state
//
// A compressible buffer repeats a 1KiB segment (random 7-bit bytes when
// randomContents is set, otherwise the ramp k%128). An incompressible buffer
// is built from independent random runs of 1, 2, 4, ... 2^19 and 1 bytes.
func Generate(r *rand.Rand, incompressible bool, randomContents bool) (buffer *Buffer) {
	var (
		data []byte
	)

	data = make([]byte, 0, BiggestBufSize+OffsetRange)

	if incompressible {
		data = append(data, byte(r.Intn(255)))
		for runLength := 2; runLength < BiggestBufSize; runLength <<= 1 {
			for k := 0; k < runLength; k++ {
				data = append(data, byte(r.Intn(255)))
			}
		}
		data = append(data, byte(r.Intn(255)))
	} else {
		for k := 0; k < randomSegmentSize; k++ {
			if randomContents {
				data = append(data, byte(r.Intn(127)))
			} else {
				data = append(data, byte(k%128))
			}
		}

		// Avoid escaping ambiguity when buffer contents are displayed
		data = bytes.ReplaceAll(data, []byte{'\\'}, []byte{'!'})

		for len(data) < BiggestBufSize {
			data = append(data, data...)
		}
	}

	data = append(data, data[:OffsetRange]...)

	buffer = &Buffer{data: data}

	return
}

// Len returns the size of the whole region, including the trailing copy
func (buffer *Buffer) Len() int {
	return len(buffer.data)
}

// Slice returns a read-only view of length bytes starting at offset
//
// The view's capacity ends at its length so an append by the caller can never
// scribble over the shared region.
func (buffer *Buffer) Slice(offset int64, length int64) (view []byte, err error) {
	if (0 > offset) || (0 > length) || (offset+length > int64(len(buffer.data))) {
		err = fmt.Errorf("bufgen.Buffer.Slice(%d, %d) exceeds buffer of %d bytes", offset, length, len(buffer.data))
		return
	}

	view = buffer.data[offset : offset+length : offset+length]

	return
}

// UniqueOffset returns the starting offset into a Buffer used for fileNum
//
// A numeric tid spreads threads across the offset range, otherwise only
// fileNum is used. The result must not depend on anything else so that a
// later phase can verify what an earlier phase wrote.
func UniqueOffset(tid string, fileNum int64) int64 {
	tidNum, err := strconv.ParseInt(tid, 10, 64)
	if nil != err {
		return fileNum % OffsetRange
	}
	return ((tidNum + 1) * fileNum) % OffsetRange
}

// FirstMismatch returns the index of the first byte where actual differs from
// expected, or -1 if actual equals expected. A length difference counts as a
// mismatch at the end of the shorter slice.
func FirstMismatch(expected []byte, actual []byte) int {
	if bytes.Equal(expected, actual) {
		return -1
	}

	shorter := len(expected)
	if len(actual) < shorter {
		shorter = len(actual)
	}

	for i := 0; i < shorter; i++ {
		if expected[i] != actual[i] {
			return i
		}
	}

	return shorter
}
