// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package dirtree

import (
	"path/filepath"
	"strings"

	"github.com/google/btree"
)

const dirSetBTreeDegree = 8

type dirItem struct {
	depth int
	path  string
}

func (item *dirItem) Less(than btree.Item) bool {
	other := than.(*dirItem)
	if item.depth != other.depth {
		return item.depth < other.depth
	}
	return item.path < other.path
}

// DirSet is an ordered set of directory paths
//
// Paths are kept ordered by depth and then lexically, so Ascend() visits
// parents before their children and DescendByDepth() visits children first.
type DirSet struct {
	bt *btree.BTree
}

func NewDirSet() (dirSet *DirSet) {
	dirSet = &DirSet{bt: btree.New(dirSetBTreeDegree)}
	return
}

// Add inserts path, returning false if it was already present
func (dirSet *DirSet) Add(path string) (added bool) {
	path = filepath.Clean(path)
	added = (nil == dirSet.bt.ReplaceOrInsert(&dirItem{depth: pathDepth(path), path: path}))
	return
}

// Has reports whether path is in the set
func (dirSet *DirSet) Has(path string) bool {
	path = filepath.Clean(path)
	return dirSet.bt.Has(&dirItem{depth: pathDepth(path), path: path})
}

func (dirSet *DirSet) Len() int {
	return dirSet.bt.Len()
}

// Ascend calls iterator for each path, shallowest first, until iterator returns false
func (dirSet *DirSet) Ascend(iterator func(path string) bool) {
	dirSet.bt.Ascend(func(item btree.Item) bool {
		return iterator(item.(*dirItem).path)
	})
}

// DescendByDepth calls iterator for each path, deepest first, until iterator returns false
func (dirSet *DirSet) DescendByDepth(iterator func(path string) bool) {
	dirSet.bt.Descend(func(item btree.Item) bool {
		return iterator(item.(*dirItem).path)
	})
}

func pathDepth(path string) int {
	return strings.Count(path, string(filepath.Separator))
}
