// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadSingleRecord(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("hello world"), got)

	_, err = r.Next()
	require.Equal(t, io.EOF, err)
}

func TestWriteReadManyRecords(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	var want [][]byte
	for i := 0; i < 1000; i++ {
		rec := []byte(strings.Repeat("x", i%37))
		want = append(want, rec)
		_, err := w.WriteRecord(rec)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	for i, exp := range want {
		got, err := r.Next()
		require.NoErrorf(t, err, "record %d", i)
		require.Equal(t, exp, got)
	}
	_, err := r.Next()
	require.Equal(t, io.EOF, err)
}

func TestRecordLargerThanBlockSpansChunks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	big := bytes.Repeat([]byte("a"), 3*blockSize+17)
	_, err := w.WriteRecord(big)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestEmptyRecordRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord(nil)
	require.NoError(t, err)
	_, err = w.WriteRecord([]byte("after empty"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{}, got)

	got, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte("after empty"), got)
}

func TestCorruptChunkIsReportedNotPanicked(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord([]byte("a record"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	corrupt := buf.Bytes()
	// Flip a byte inside the payload so the checksum no longer matches.
	corrupt[legacyHeaderSize] ^= 0xff

	r := NewReader(bytes.NewReader(corrupt))
	_, err = r.Next()
	require.Equal(t, ErrInvalidChunk, err)
}

func TestTruncatedTailReturnsErrInvalidChunk(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	_, err := w.WriteRecord([]byte("a record"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	truncated := buf.Bytes()[:legacyHeaderSize+3]
	r := NewReader(bytes.NewReader(truncated))
	_, err = r.Next()
	require.Equal(t, ErrInvalidChunk, err)
}
