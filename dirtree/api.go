// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package dirtree maps a file index to the directory and file name it lives
// at. Placement depends only on the index and the Layout, so a later phase can
// find every file an earlier phase created without any manifest.
package dirtree

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// HashPrime scatters indices across the hashed tree
const HashPrime = 900593

// Layout describes the shape of the directory tree under each top directory
type Layout struct {
	FilesPerDir int64
	DirsPerDir  int64
	Iterations  int64
	Hashed      bool
}

// Naming holds the per-thread components of every file name
type Naming struct {
	Prefix string
	Host   string
	Tid    string
	Suffix string
}

// SeqDirName places fileNum in a radix-DirsPerDir tree, FilesPerDir files per leaf
//
// The directory number fileNum/FilesPerDir is written as base DirsPerDir
// digits, most significant first, each digit becoming a "d_%03d" component.
// At least one component is always produced.
func (layout *Layout) SeqDirName(fileNum int64) string {
	var (
		digits []string
		dirIn  int64
	)

	dirIn = fileNum / layout.FilesPerDir

	for {
		digits = append(digits, fmt.Sprintf("d_%03d", dirIn%layout.DirsPerDir))
		dirIn /= layout.DirsPerDir
		if 0 == dirIn {
			break
		}
	}

	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	return strings.Join(digits, string(filepath.Separator))
}

// HashedDirName places fileNum pseudo-randomly in a DirsPerDir-wide tree
//
// The result is empty when the hashed directory number is 0 or 1, placing
// the file directly in the top directory.
func (layout *Layout) HashedDirName(fileNum int64) string {
	var (
		components []string
		dirNum     int64
		hash       int64
	)

	hash = mulMod(fileNum, HashPrime, layout.Iterations)
	dirNum = hash / layout.FilesPerDir

	for 1 < dirNum {
		components = append(components, fmt.Sprintf("h_%03d", mulMod(dirNum, HashPrime, layout.DirsPerDir)))
		dirNum /= layout.DirsPerDir
	}

	for i, j := 0, len(components)-1; i < j; i, j = i+1, j-1 {
		components[i], components[j] = components[j], components[i]
	}

	return strings.Join(components, string(filepath.Separator))
}

// DirName returns the subdirectory of fileNum under its top directory
func (layout *Layout) DirName(fileNum int64) string {
	if layout.Hashed {
		return layout.HashedDirName(fileNum)
	}
	return layout.SeqDirName(fileNum)
}

// DirNames precomputes DirName() for indices [0, count)
func (layout *Layout) DirNames(count int64) (dirNames []string) {
	dirNames = make([]string, count)
	for fileNum := int64(0); fileNum < count; fileNum++ {
		dirNames[fileNum] = layout.DirName(fileNum)
	}
	return
}

// FileName returns prefix_host_tid_fileNum_suffix
func (naming *Naming) FileName(fileNum int64) string {
	return naming.Prefix + "_" + naming.Host + "_" + naming.Tid + "_" + strconv.FormatInt(fileNum, 10) + "_" + naming.Suffix
}

// FilePath joins the round-robin selected top directory, dirName and fileName
func FilePath(trees []string, fileNum int64, dirName string, fileName string) string {
	return filepath.Join(trees[fileNum%int64(len(trees))], dirName, fileName)
}

// Tree returns the top directory fileNum is striped onto
func Tree(trees []string, fileNum int64) string {
	return trees[fileNum%int64(len(trees))]
}

// mulMod returns (a * b) % m without overflowing for any a, b < 2^63 and m > 0
func mulMod(a int64, b int64, m int64) int64 {
	var (
		result uint64
		ua     = uint64(a) % uint64(m)
		ub     = uint64(b) % uint64(m)
		um     = uint64(m)
	)

	if (0 == ua) || (ub <= (1<<63)/ua) {
		return int64((ua * ub) % um)
	}

	for 0 < ub {
		if 1 == ub&1 {
			result = (result + ua) % um
		}
		ua = (ua << 1) % um
		ub >>= 1
	}

	return int64(result)
}
