// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUnder(t *testing.T) {
	assert := assert.New(t)

	assert.True(isUnder("/mnt/t", "/mnt/t"))
	assert.True(isUnder("/mnt/t", "/mnt/t/"))
	assert.True(isUnder("/mnt/t/d_000", "/mnt/t"))
	assert.False(isUnder("/mnt/t2", "/mnt/t"))
	assert.False(isUnder("/mnt/t2/d_000", "/mnt/t"))
	assert.False(isUnder("/mnt", "/mnt/t"))
}

func TestRelativeDirSiblingTops(t *testing.T) {
	assert := assert.New(t)

	workload := &Workload{config: &Config{TopDirs: []string{"/mnt/t", "/mnt/t2"}}}

	commonDir, err := workload.relativeDir("/mnt/t2/file_srcdir/d_000")
	require.NoError(t, err)
	assert.Equal("/file_srcdir/d_000", commonDir)

	commonDir, err = workload.relativeDir("/mnt/t/file_srcdir/d_000")
	require.NoError(t, err)
	assert.Equal("/file_srcdir/d_000", commonDir)

	_, err = workload.relativeDir("/mnt/t3/file_srcdir")
	assert.Error(err)
}

func TestRemoveEmptyAncestorsSiblingTops(t *testing.T) {
	assert := assert.New(t)

	top := t.TempDir()
	trees := []string{filepath.Join(top, "t"), filepath.Join(top, "t2")}
	mkdirAll(t, trees[0])
	leaf := filepath.Join(trees[1], "a", "b")
	mkdirAll(t, leaf)

	workload := &Workload{config: &Config{}}
	require.NoError(t, workload.removeEmptyAncestors(trees, leaf))

	assert.NoDirExists(filepath.Join(trees[1], "a"))
	assert.DirExists(trees[1])
	assert.DirExists(trees[0])

	assert.Error(workload.removeEmptyAncestors(trees, filepath.Join(top, "elsewhere", "a")))
}
