// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/dirtree"
	"github.com/NVIDIA/smallfile/utils"
)

// isUnder reports whether path is dir itself or lies below it
func isUnder(path string, dir string) bool {
	dir = filepath.Clean(dir)
	return (path == dir) || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// dirName returns the subdirectory of fileNum, from the cache when possible
func (workload *Workload) dirName(fileNum int64) string {
	if fileNum < int64(len(workload.state.dirNames)) {
		return workload.state.dirNames[fileNum]
	}
	return workload.layout.DirName(fileNum)
}

// filePath returns where fileNum lives in trees
func (workload *Workload) filePath(trees []string, fileNum int64) string {
	return dirtree.FilePath(trees, fileNum, workload.dirName(fileNum), workload.naming.FileName(fileNum))
}

func (workload *Workload) srcPath() string {
	return workload.filePath(workload.config.SrcDirs, workload.state.FileNum)
}

func (workload *Workload) destPath() string {
	return workload.filePath(workload.config.DestDirs, workload.state.FileNum)
}

// ownsSubdirs reports whether this thread makes and removes the directory trees
func (workload *Workload) ownsSubdirs() bool {
	return !workload.config.SharedDir || (FirstTid == workload.config.Tid)
}

// addSubdirs adds every directory a file of trees may land in
//
// Sequential placement fills FilesPerDir files per directory, so only one
// index per directory needs to be looked at.
func (workload *Workload) addSubdirs(trees []string, dirSet *dirtree.DirSet) {
	var (
		config = workload.config
		limit  = config.Iterations + config.FilesPerDir
		step   = config.FilesPerDir
	)

	if config.HashIntoDirs {
		limit = config.Iterations + 1
		step = 1
	}

	for k := range trees {
		for fileNum := int64(0); fileNum < limit; fileNum += step {
			dirSet.Add(filepath.Dir(workload.filePath(trees, fileNum+int64(k))))
		}
	}
}

// makeAllSubdirs creates the source and destination trees before the test starts
func (workload *Workload) makeAllSubdirs() (err error) {
	var (
		abort  = workload.protocol.Abort()
		dirSet = dirtree.NewDirSet()
	)

	if !workload.ownsSubdirs() {
		return
	}

	workload.log.Debugf("making all subdirs")

	workload.addSubdirs(workload.config.SrcDirs, dirSet)
	workload.addSubdirs(workload.config.DestDirs, dirSet)

	dirSet.Ascend(func(dirPath string) bool {
		if abort.Exists() {
			workload.log.Infof("saw abort file %s, not making remaining directories", abort.Path)
			err = blunder.NewCancelledError("thread %s saw abort flag while making directories", workload.config.Tid)
			return false
		}
		if utils.FileExists(dirPath) {
			return true
		}
		err = utils.EnsureDirExists(dirPath)
		if (nil != err) && os.IsExist(err) && workload.config.SharedDir {
			err = nil
		}
		return nil == err
	})

	return
}

// cleanAllSubdirs removes the now empty directories of both trees, deepest first
//
// Removal of a directory's ancestors continues up to, but not including, its
// top directory and stops at the first one still in use.
func (workload *Workload) cleanAllSubdirs() (err error) {
	if !workload.ownsSubdirs() {
		return
	}

	workload.log.Debugf("cleaning all subdirs")

	for _, trees := range [][]string{workload.config.SrcDirs, workload.config.DestDirs} {
		dirSet := dirtree.NewDirSet()
		workload.addSubdirs(trees, dirSet)

		dirSet.DescendByDepth(func(dirPath string) bool {
			err = workload.removeEmptyAncestors(trees, dirPath)
			return nil == err
		})
		if nil != err {
			return
		}
	}

	return
}

func (workload *Workload) removeEmptyAncestors(trees []string, dirPath string) (err error) {
	var (
		rmdirErr error
		topDir   string
	)

	for _, tree := range trees {
		if isUnder(dirPath, tree) {
			topDir = filepath.Clean(tree)
			break
		}
	}
	if "" == topDir {
		err = blunder.NewInternalError("directory %s is not part of any top-level directory in %v", dirPath, trees)
		return
	}

	for len(dirPath) > len(topDir) {
		if !utils.FileExists(dirPath) {
			dirPath = filepath.Dir(dirPath)
			continue
		}

		rmdirErr = unix.Rmdir(dirPath)
		if nil != rmdirErr {
			switch rmdirErr {
			case unix.ENOTEMPTY, unix.EEXIST, unix.EACCES, unix.EBUSY:
				return
			}
			workload.log.Errorf("deleting directory %s: %v", dirPath, rmdirErr)
			if (unix.ENOENT != rmdirErr) && !workload.config.SharedDir {
				err = &os.PathError{Op: "rmdir", Path: dirPath, Err: rmdirErr}
				return
			}
		}

		dirPath = filepath.Dir(dirPath)
	}

	return
}
