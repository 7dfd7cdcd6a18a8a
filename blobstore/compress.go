// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package blobstore

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// compress stores every artifact payload zlib-compressed on disk, the
// way Fossil compresses blob content before writing it into the
// repository database.
func compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
