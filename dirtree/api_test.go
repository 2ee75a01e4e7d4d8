// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqDirName(t *testing.T) {
	assert := assert.New(t)

	layout := &Layout{FilesPerDir: 20, DirsPerDir: 3, Iterations: 10000}
	assert.Equal(filepath.Join("d_001", "d_000", "d_000", "d_002"), layout.SeqDirName(29*20))

	layout.DirsPerDir = 7
	assert.Equal(filepath.Join("d_006", "d_003", "d_005"), layout.SeqDirName(320*20))

	assert.Equal("d_000", layout.SeqDirName(0))
	assert.Equal("d_000", layout.SeqDirName(19))
	assert.Equal("d_001", layout.SeqDirName(20))
	assert.Equal(filepath.Join("d_001", "d_000"), layout.SeqDirName(7*20))

	// every index of one FilesPerDir bucket lands in the same directory
	for fileNum := int64(40); fileNum < 60; fileNum++ {
		assert.Equal(layout.SeqDirName(40), layout.SeqDirName(fileNum))
	}
}

func TestHashedDirName(t *testing.T) {
	assert := assert.New(t)

	layout := &Layout{FilesPerDir: 5, DirsPerDir: 4, Iterations: 500, Hashed: true}
	assert.Equal(filepath.Join("h_001", "h_000", "h_001"), layout.HashedDirName(499))
	assert.Equal(layout.HashedDirName(499), layout.DirName(499))

	// index 0 hashes to directory 0 which is the top directory itself
	assert.Equal("", layout.HashedDirName(0))

	naming := &Naming{Prefix: "p", Host: "myhost", Tid: "regtest", Suffix: "deep_hashed"}
	path := FilePath([]string{"/top"}, 499, layout.DirName(499), naming.FileName(499))
	assert.Equal(filepath.Join("/top", "h_001", "h_000", "h_001", "p_myhost_regtest_499_deep_hashed"), path)
}

func TestPurity(t *testing.T) {
	assert := assert.New(t)

	for _, hashed := range []bool{false, true} {
		layout := &Layout{FilesPerDir: 5, DirsPerDir: 2, Iterations: 50, Hashed: hashed}
		dirNames := layout.DirNames(55)
		assert.Equal(55, len(dirNames))
		for fileNum := int64(0); fileNum < 55; fileNum++ {
			assert.Equal(dirNames[fileNum], layout.DirName(fileNum))
			assert.Equal(layout.DirName(fileNum), layout.DirName(fileNum))
		}
	}

	assert.Equal(int64(7), mulMod(7, 1, 100))
	assert.Equal(int64((1<<62)%1000003*2%1000003), mulMod(1<<62, 2, 1000003))
}

func TestFileNaming(t *testing.T) {
	assert := assert.New(t)

	trees := []string{"/a", "/b", "/c"}
	naming := &Naming{Prefix: "p", Host: "h", Tid: "00", Suffix: "s"}

	assert.Equal("p_h_00_1_s", naming.FileName(1))
	assert.Equal("/b", Tree(trees, 1))
	assert.Equal("/a", Tree(trees, 3))
	assert.Equal(filepath.Join("/b", "d_000", "p_h_00_4_s"), FilePath(trees, 4, "d_000", naming.FileName(4)))
}

func TestDirSet(t *testing.T) {
	assert := assert.New(t)

	dirSet := NewDirSet()
	assert.True(dirSet.Add("/top/d_000"))
	assert.True(dirSet.Add("/top/d_001/d_000"))
	assert.True(dirSet.Add("/top/d_001"))
	assert.False(dirSet.Add("/top/d_000/"))
	assert.Equal(3, dirSet.Len())
	assert.True(dirSet.Has("/top/d_001"))
	assert.False(dirSet.Has("/top/d_002"))

	var ascending []string
	dirSet.Ascend(func(path string) bool {
		ascending = append(ascending, path)
		return true
	})
	assert.Equal([]string{"/top/d_000", "/top/d_001", "/top/d_001/d_000"}, ascending)

	var descending []string
	dirSet.DescendByDepth(func(path string) bool {
		descending = append(descending, path)
		return 2 > len(descending)
	})
	assert.Equal([]string{"/top/d_001/d_000", "/top/d_001"}, descending)
}
