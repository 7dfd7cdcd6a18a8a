// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package delta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	source := []byte(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50))
	target := append([]byte(nil), source...)
	target = append(target[:100], append([]byte("INSERTED TEXT HERE "), target[100:]...)...)

	d := Create(source, target)
	got, err := Apply(source, d)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestRoundTripIdenticalBlobs(t *testing.T) {
	source := []byte("identical content, nothing to change")
	d := Create(source, source)
	got, err := Apply(source, d)
	require.NoError(t, err)
	assert.Equal(t, source, got)
}

func TestRoundTripEmptyTarget(t *testing.T) {
	source := []byte("some source content")
	d := Create(source, nil)
	got, err := Apply(source, d)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRoundTripNoCommonality(t *testing.T) {
	source := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	target := []byte("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	d := Create(source, target)
	got, err := Apply(source, d)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestApplyDetectsChecksumCorruption(t *testing.T) {
	source := []byte("the source blob")
	target := []byte("the target blob, a bit longer")
	d := Create(source, target)
	corrupt := bytes.Replace(d, []byte(";"), []byte(";f"), 1)
	_, err := Apply(source, corrupt)
	assert.Error(t, err)
}

func TestDeltaSmallerThanLiteralForRedundantContent(t *testing.T) {
	source := []byte(strings.Repeat("0123456789", 200))
	target := append([]byte(nil), source...)
	target = append(target, "tail"...)
	d := Create(source, target)
	assert.Less(t, len(d), len(target), "a delta against a near-identical source should be much smaller than storing target literally")
}
