// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ansel1/merry"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/bufgen"
	"github.com/NVIDIA/smallfile/platform"
	"github.com/NVIDIA/smallfile/utils"
)

const (
	renameSuffix   = ".rnm"
	dirSuffix      = ".d"
	symlinkSuffix  = ".s"
	swiftTmpSuffix = ".tmp"

	ctimeSizeXattrName = "user.smallfile-ctime-size"
)

func xattrName(j int64) string {
	return fmt.Sprintf("user.smallfile-%d", j)
}

func allXattrName(j int64) string {
	return fmt.Sprintf("user.smallfile-all-%d", j)
}

// nextFileSizeKB returns the size of the current file
//
// Exponentially distributed sizes are drawn from the seeded random sequence,
// so every phase sees the same size for the same file.
func (workload *Workload) nextFileSizeKB() (sizeKB int64) {
	var (
		config = workload.config
	)

	sizeKB = config.TotalSizeKB
	if SizeExponential != config.SizeDistribution {
		return
	}

	sizeKB = int64(workload.rand.ExpFloat64() * float64(config.TotalSizeKB))
	if sizeKB > config.TotalSizeKB*randomSizeLimit {
		sizeKB = config.TotalSizeKB * randomSizeLimit
	}
	if 1 > sizeKB {
		sizeKB = 1
	}

	workload.log.Debugf("rnd expn file size %d KB", sizeKB)

	return
}

// recordSizeKB returns the largest transfer size, defaulting to the whole file
func (workload *Workload) recordSizeKB() (rszKB int64) {
	rszKB = workload.config.RecordSizeKB
	if 0 == rszKB {
		rszKB = workload.config.TotalSizeKB
	}
	if rszKB > bufgen.BiggestBufSize/bytesPerKB {
		rszKB = bufgen.BiggestBufSize / bytesPerKB
	}
	return
}

// prepareBuf returns the view of the shared buffer the current file is written from
//
// It is big enough for the largest record and for every xattr value.
func (workload *Workload) prepareBuf() (buf []byte, err error) {
	var (
		config = workload.config
	)

	totalSpaceKB := config.RecordSizeKB
	if 0 == totalSpaceKB {
		totalSpaceKB = config.TotalSizeKB
		if SizeExponential == config.SizeDistribution {
			totalSpaceKB *= randomSizeLimit
		}
	}

	totalSpace := totalSpaceKB * bytesPerKB
	if totalSpace > bufgen.BiggestBufSize {
		totalSpace = bufgen.BiggestBufSize
	}

	if xattrSpace := config.XattrSize + config.XattrCount; xattrSpace > totalSpace {
		totalSpace = xattrSpace
	}

	buf, err = workload.buffer.Slice(bufgen.UniqueOffset(config.Tid, workload.state.FileNum), totalSpace)
	if nil != err {
		err = blunder.NewInternalError("%v", err)
	}

	return
}

// requireXattrs fails when the file system under test does not take user xattrs
func (workload *Workload) requireXattrs() (err error) {
	var (
		xattrDir string
	)

	for _, dir := range []string{workload.config.SrcDirs[0], workload.config.TopDirs[0], workload.config.NetworkDir} {
		if utils.FileExists(dir) {
			xattrDir = dir
			break
		}
	}

	if ("" == xattrDir) || !platform.XattrSupported(xattrDir) {
		err = blunder.NewConfigError("%v needs extended attributes, which %s does not support", workload.config.Op, xattrDir)
	}

	return
}

// integrityError annotates a data integrity failure with where in the run it happened
func (workload *Workload) integrityError(err error) error {
	return merry.Prependf(err, "thread %s file %d request %d", workload.config.Tid, workload.state.FileNum, workload.state.Rq).
		WithValue("filenum", workload.state.FileNum).
		WithValue("rq", workload.state.Rq)
}

// writeRecords writes sizeKB of buf to file in record sized chunks
func (workload *Workload) writeRecords(file *os.File, buf []byte, sizeKB int64, countRequests bool) (err error) {
	var (
		n         int
		offset    int64
		remaining = sizeKB
		rszKB     = workload.recordSizeKB()
	)

	for 0 < remaining {
		nextKB := rszKB
		if remaining < nextKB {
			nextKB = remaining
		}
		rszBytes := nextKB * bytesPerKB

		n, err = file.Write(buf[:rszBytes])
		if countRequests {
			workload.state.Rq++
		}
		workload.stats.BytesWritten.Add(uint64(n))
		if nil != err {
			return
		}
		if int64(n) != rszBytes {
			err = workload.integrityError(blunder.NewDataIntegrityError(workload.config.Op.String(), file.Name(), uint64(rszBytes), uint64(n), uint64(offset+int64(n))))
			return
		}

		offset += rszBytes
		remaining -= nextKB
	}

	return
}

// readRecords reads sizeKB from file in record sized chunks, comparing against buf if verifying
func (workload *Workload) readRecords(file *os.File, buf []byte, readBuf []byte, sizeKB int64) (err error) {
	var (
		n         int
		offset    int64
		remaining = sizeKB
		rszKB     = workload.recordSizeKB()
	)

	for 0 < remaining {
		nextKB := rszKB
		if remaining < nextKB {
			nextKB = remaining
		}
		rszBytes := nextKB * bytesPerKB

		n, err = io.ReadFull(file, readBuf[:rszBytes])
		workload.state.Rq++
		workload.stats.BytesRead.Add(uint64(n))
		if (io.EOF == err) || (io.ErrUnexpectedEOF == err) {
			err = workload.integrityError(blunder.NewDataIntegrityError(workload.config.Op.String(), file.Name(), uint64(rszBytes), uint64(n), uint64(offset+int64(n))))
			return
		}
		if nil != err {
			return
		}

		if workload.config.VerifyRead {
			if workload.config.Verbose {
				workload.log.Debugf("read fn %s next_fsz %d remain %d rszbytes %d bytesread %d", file.Name(), sizeKB, remaining, rszBytes, n)
			}
			if mismatch := bufgen.FirstMismatch(buf[:rszBytes], readBuf[:n]); -1 != mismatch {
				err = workload.integrityError(blunder.NewDataIntegrityError(workload.config.Op.String(), file.Name(), uint64(rszBytes), uint64(n), uint64(offset+int64(mismatch))))
				return
			}
		}

		offset += rszBytes
		remaining -= nextKB
	}

	return
}

// rememberCtimeSize stamps file with "<unix seconds>,<size KB>" for a later await-create
func rememberCtimeSize(file *os.File) (err error) {
	info, err := file.Stat()
	if nil != err {
		return
	}
	nowSeconds := float64(time.Now().UnixNano()) / float64(time.Second)
	value := fmt.Sprintf("%.6f,%d", nowSeconds, info.Size()/bytesPerKB)
	err = platform.Fsetxattr(file, ctimeSizeXattrName, []byte(value), 0)
	return
}

// recallCtimeSize returns what rememberCtimeSize() stamped on path; found is false until it is there
func recallCtimeSize(path string) (ctime time.Time, sizeKB int64, found bool, err error) {
	value, err := platform.Getxattr(path, ctimeSizeXattrName)
	if nil != err {
		if blunder.IsErrno(err, syscall.ENODATA) {
			err = nil
		}
		return
	}

	tokens := strings.Split(string(value), ",")
	if 2 != len(tokens) {
		err = fmt.Errorf("malformed %s value %q on %s", ctimeSizeXattrName, value, path)
		return
	}

	seconds, err := strconv.ParseFloat(tokens[0], 64)
	if nil != err {
		return
	}
	sizeKB, err = strconv.ParseInt(strings.SplitN(tokens[1], ".", 2)[0], 10, 64)
	if nil != err {
		return
	}

	ctime = time.Unix(0, int64(seconds*float64(time.Second)))
	found = true

	return
}

func (workload *Workload) doCreate() (err error) {
	if workload.config.RecordCtimeSize {
		err = workload.requireXattrs()
		if nil != err {
			return
		}
	}

	err = workload.forEachFile(func() (err error) {
		var (
			buf  []byte
			file *os.File
		)

		filePath := workload.srcPath()
		workload.opStart()

		file, err = os.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
		if nil != err {
			if os.IsNotExist(err) && workload.config.DirsOnDemand {
				err = os.MkdirAll(filepath.Dir(filePath), 0777)
				if nil == err {
					// retry this file now that its directory exists
					workload.state.FileNum--
				}
			}
			return
		}

		sizeKB := workload.nextFileSizeKB()
		buf, err = workload.prepareBuf()
		if nil == err {
			err = workload.writeRecords(file, buf, sizeKB, true)
		}
		if (nil == err) && workload.config.RecordCtimeSize {
			err = rememberCtimeSize(file)
		}
		if workload.config.Fsync {
			if syncErr := file.Sync(); nil == err {
				err = syncErr
			}
		}
		if closeErr := file.Close(); nil == err {
			err = closeErr
		}
		if nil != err {
			return
		}

		workload.stats.FileBytes.Add(uint64(sizeKB * bytesPerKB))
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

// doWrite rewrites existing files, either after their current end or in place
func (workload *Workload) doWrite(appending bool, truncate bool) (err error) {
	if workload.config.RecordCtimeSize {
		err = workload.requireXattrs()
		if nil != err {
			return
		}
	}
	if appending && truncate {
		err = blunder.NewInternalError("can not append and truncate at the same time")
		return
	}

	err = workload.forEachFile(func() (err error) {
		var (
			buf  []byte
			file *os.File
		)

		filePath := workload.srcPath()
		workload.opStart()

		// O_APPEND has different semantics
		openFlags := os.O_WRONLY
		if truncate {
			openFlags |= os.O_TRUNC
		}
		file, err = os.OpenFile(filePath, openFlags, 0)
		if nil != err {
			return
		}

		if appending {
			_, err = file.Seek(0, io.SeekEnd)
		}
		sizeKB := workload.nextFileSizeKB()
		if nil == err {
			buf, err = workload.prepareBuf()
		}
		if nil == err {
			err = workload.writeRecords(file, buf, sizeKB, true)
		}
		if (nil == err) && workload.config.RecordCtimeSize {
			err = rememberCtimeSize(file)
		}
		if (nil == err) && workload.config.Fsync {
			err = file.Sync()
		}
		if closeErr := file.Close(); nil == err {
			err = closeErr
		}
		if nil != err {
			return
		}

		workload.stats.FileBytes.Add(uint64(sizeKB * bytesPerKB))
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doRead() (err error) {
	readBuf := make([]byte, workload.recordSizeKB()*bytesPerKB)

	err = workload.forEachFile(func() (err error) {
		var (
			buf  []byte
			file *os.File
		)

		filePath := workload.srcPath()
		workload.opStart()

		sizeKB := workload.nextFileSizeKB()
		file, err = os.Open(filePath)
		if nil != err {
			return
		}

		buf, err = workload.prepareBuf()
		if nil == err {
			err = workload.readRecords(file, buf, readBuf, sizeKB)
		}
		if closeErr := file.Close(); nil == err {
			err = closeErr
		}
		if nil != err {
			return
		}

		workload.stats.FileBytes.Add(uint64(sizeKB * bytesPerKB))
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

// relativeDir returns dirPath with its top directory stripped off
func (workload *Workload) relativeDir(dirPath string) (commonDir string, err error) {
	for _, topDir := range workload.config.TopDirs {
		if isUnder(dirPath, topDir) {
			commonDir = dirPath[len(filepath.Clean(topDir)):]
			return
		}
	}
	err = blunder.NewInternalError("%v: directory %s is not in any top dir in %v", workload.config.Op, dirPath, workload.config.TopDirs)
	return
}

// doReaddir lists each directory once, when the first of its files comes up,
// and checks every file is in the listing. With lsL each file is also stat()ed.
func (workload *Workload) doReaddir(lsL bool) (err error) {
	var (
		dirMap    = make(map[string]struct{})
		fileCount int
		prevDir   string
	)

	if workload.config.HashIntoDirs {
		err = blunder.NewConfigError("cannot do %v test with hashed directories", workload.config.Op)
		return
	}

	listOpName := workload.config.Op.String()
	if lsL {
		listOpName = lsLReaddirOpName
	}

	err = workload.forEachFile(func() (err error) {
		var (
			commonDir string
			entries   []os.DirEntry
		)

		filePath := workload.srcPath()

		commonDir, err = workload.relativeDir(filepath.Dir(filePath))
		if nil != err {
			return
		}

		if commonDir != prevDir {
			if !lsL && !workload.config.SharedDir && (fileCount != len(dirMap)) {
				err = workload.integrityError(blunder.NewIntegrityErrorf("%v: found %d files in directory %s but expected %d",
					workload.config.Op, len(dirMap), prevDir, fileCount))
				return
			}

			dirMap = make(map[string]struct{})

			workload.opStart()
			for _, topDir := range workload.config.TopDirs {
				entries, err = os.ReadDir(topDir + commonDir)
				if nil != err {
					return
				}
				for _, entry := range entries {
					if !entry.IsDir() {
						dirMap[entry.Name()] = struct{}{}
					}
				}
			}
			workload.opEnd(listOpName)

			prevDir = commonDir
			fileCount = 0
		}

		if lsL {
			workload.opStart()
			_, err = os.Stat(filePath)
			if nil != err {
				return
			}
			workload.opEnd(lsLStatOpName)
		}

		fileCount++

		if _, ok := dirMap[filepath.Base(filePath)]; !ok {
			err = workload.integrityError(blunder.NewIntegrityErrorf("%v: file %s missing from directory %s",
				workload.config.Op, filepath.Base(filePath), prevDir))
		}

		return
	})

	return
}

// doAwaitCreate waits for files some other agent creates, timing each from
// the creation time recorded on it to when it reached its recorded size.
func (workload *Workload) doAwaitCreate() (err error) {
	err = workload.requireXattrs()
	if nil != err {
		return
	}

	err = workload.forEachFile(func() (err error) {
		var (
			ctime  time.Time
			found  bool
			info   os.FileInfo
			sizeKB int64
		)

		filePath := workload.srcPath()
		pollInterval := workload.config.AwaitPollInterval

		workload.log.Debugf("awaiting file %s", filePath)
		for !utils.FileExists(filePath) {
			err = workload.pollSleep(pollInterval)
			if nil != err {
				return
			}
		}

		workload.log.Debugf("awaiting original ctime-size xattr for file %s", filePath)
		for {
			ctime, sizeKB, found, err = recallCtimeSize(filePath)
			if (nil != err) || found {
				break
			}
			err = workload.pollSleep(pollInterval)
			if nil != err {
				return
			}
		}
		if nil != err {
			return
		}

		workload.log.Debugf("waiting for file %s created at %v to grow to original size %d KB", filePath, ctime, sizeKB)
		for {
			info, err = os.Stat(filePath)
			if nil != err {
				return
			}
			if info.Size() > sizeKB*bytesPerKB {
				err = workload.integrityError(blunder.NewIntegrityErrorf("asynchronously created replica in %s is %d bytes, larger than original %d KB",
					filePath, info.Size(), sizeKB))
				return
			}
			if info.Size() == sizeKB*bytesPerKB {
				break
			}
			err = workload.pollSleep(pollInterval)
			if nil != err {
				return
			}
		}

		workload.opStartedAt(ctime)
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

// sameTrees reports whether renamed files stay in the tree they came from
func (workload *Workload) sameTrees() bool {
	return reflect.DeepEqual(workload.config.SrcDirs, workload.config.DestDirs)
}

func (workload *Workload) doRename() (err error) {
	inSameDir := workload.sameTrees()

	err = workload.forEachFile(func() (err error) {
		fromPath := workload.srcPath()
		toPath := workload.destPath()
		if inSameDir {
			toPath += renameSuffix
		}

		workload.opStart()
		err = os.Rename(fromPath, toPath)
		if nil != err {
			return
		}
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doDelete() (err error) {
	err = workload.forEachFile(func() (err error) {
		filePath := workload.srcPath()

		workload.opStart()
		err = os.Remove(filePath)
		if nil != err {
			return
		}
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doDeleteRenamed() (err error) {
	inSameDir := workload.sameTrees()

	err = workload.forEachFile(func() (err error) {
		filePath := workload.destPath()
		if inSameDir {
			filePath += renameSuffix
		}

		workload.opStart()
		err = os.Remove(filePath)
		if nil != err {
			return
		}
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doSymlink() (err error) {
	err = workload.forEachFile(func() (err error) {
		target := workload.srcPath()
		linkPath := workload.destPath() + symlinkSuffix

		workload.opStart()
		err = os.Symlink(target, linkPath)
		if nil != err {
			return
		}
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doMkdir() (err error) {
	err = workload.forEachFile(func() (err error) {
		dirPath := workload.srcPath() + dirSuffix

		workload.opStart()
		err = os.Mkdir(dirPath, 0777)
		if nil != err {
			if os.IsNotExist(err) && workload.config.DirsOnDemand {
				err = os.MkdirAll(filepath.Dir(dirPath), 0777)
				if nil == err {
					workload.state.FileNum--
				}
			}
			return
		}
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doRmdir() (err error) {
	err = workload.forEachFile(func() (err error) {
		dirPath := workload.srcPath() + dirSuffix

		workload.opStart()
		err = os.Remove(dirPath)
		if nil != err {
			return
		}
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doStat() (err error) {
	err = workload.forEachFile(func() (err error) {
		filePath := workload.srcPath()

		workload.opStart()
		_, err = os.Stat(filePath)
		if nil != err {
			return
		}
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doChmod() (err error) {
	err = workload.forEachFile(func() (err error) {
		filePath := workload.srcPath()

		workload.opStart()
		err = os.Chmod(filePath, 0646)
		if nil != err {
			return
		}
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doGetxattr() (err error) {
	err = workload.requireXattrs()
	if nil != err {
		return
	}

	err = workload.forEachFile(func() (err error) {
		var (
			buf   []byte
			value []byte
		)

		filePath := workload.srcPath()
		workload.opStart()

		buf, err = workload.prepareBuf()
		if nil != err {
			return
		}

		for j := int64(0); j < workload.config.XattrCount; j++ {
			value, err = platform.Getxattr(filePath, xattrName(j))
			if nil != err {
				return
			}
			expected := buf[j : j+workload.config.XattrSize]
			if !bytes.Equal(expected, value) {
				err = workload.integrityError(blunder.NewDataIntegrityError("getxattr "+xattrName(j), filePath,
					uint64(len(expected)), uint64(len(value)), uint64(bufgen.FirstMismatch(expected, value))))
				return
			}
		}

		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

func (workload *Workload) doSetxattr() (err error) {
	err = workload.requireXattrs()
	if nil != err {
		return
	}

	err = workload.forEachFile(func() (err error) {
		var (
			buf  []byte
			file *os.File
		)

		filePath := workload.srcPath()

		buf, err = workload.prepareBuf()
		if nil != err {
			return
		}

		workload.opStart()

		file, err = os.OpenFile(filePath, os.O_WRONLY, 0)
		if nil != err {
			return
		}

		for j := int64(0); (nil == err) && (j < workload.config.XattrCount); j++ {
			// each xattr gets a distinct value
			err = platform.Fsetxattr(file, xattrName(j), buf[j:j+workload.config.XattrSize], 0)
		}
		if (nil == err) && workload.config.Fsync {
			err = file.Sync()
		}
		if closeErr := file.Close(); nil == err {
			err = closeErr
		}
		if nil != err {
			return
		}

		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

// doSwiftGet reads an object the way an object server GET does: data, then its metadata xattrs
func (workload *Workload) doSwiftGet() (err error) {
	err = workload.requireXattrs()
	if nil != err {
		return
	}

	readBuf := make([]byte, workload.recordSizeKB()*bytesPerKB)

	err = workload.forEachFile(func() (err error) {
		var (
			buf   []byte
			file  *os.File
			value []byte
		)

		filePath := workload.srcPath()
		workload.log.Debugf("swift_get fn %s", filePath)

		sizeKB := workload.nextFileSizeKB()
		workload.opStart()

		file, err = os.Open(filePath)
		if nil != err {
			return
		}

		buf, err = workload.prepareBuf()
		if nil == err {
			err = workload.readRecords(file, buf, readBuf, sizeKB)
		}
		for j := int64(0); (nil == err) && (j < workload.config.XattrCount); j++ {
			value, err = platform.Fgetxattr(file, allXattrName(j))
			if blunder.IsErrno(err, syscall.ENODATA) {
				err = nil
			} else if (nil == err) && workload.config.Verbose {
				workload.log.Debugf("xattr[%d] = %q", j, value)
			}
		}
		if closeErr := file.Close(); nil == err {
			err = closeErr
		}
		if nil != err {
			return
		}

		workload.stats.FileBytes.Add(uint64(sizeKB * bytesPerKB))
		workload.opEnd(workload.config.Op.String())
		return
	})

	return
}

// doSwiftPut writes an object the way an object server PUT does: into a
// preallocated temporary file that is renamed into place once its data and
// metadata xattrs are written. A failed PUT leaves no temporary file behind.
func (workload *Workload) doSwiftPut() (err error) {
	err = workload.requireXattrs()
	if nil != err {
		return
	}

	err = workload.forEachFile(func() (err error) {
		var (
			buf  []byte
			file *os.File
		)

		finalPath := workload.srcPath()
		tmpPath := finalPath + swiftTmpSuffix

		sizeKB := workload.nextFileSizeKB()
		buf, err = workload.prepareBuf()
		if nil != err {
			return
		}

		workload.opStart()

		file, err = os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE, 0666)
		if nil != err {
			if os.IsNotExist(err) && workload.config.DirsOnDemand {
				err = os.MkdirAll(filepath.Dir(finalPath), 0777)
				if nil == err {
					workload.state.FileNum--
				}
				return
			}
			_ = utils.EnsureDeleted(tmpPath)
			return
		}

		err = workload.swiftPutFile(file, buf, sizeKB, finalPath)

		if closeErr := file.Close(); nil == err {
			err = closeErr
		}
		if nil != err {
			if deleteErr := utils.EnsureDeleted(tmpPath); nil != deleteErr {
				workload.log.Warnf("removing %s after failed put: %v", tmpPath, deleteErr)
			}
			return
		}

		workload.stats.FileBytes.Add(uint64(sizeKB * bytesPerKB))
		workload.opEnd(swiftPutOpName)
		return
	})

	return
}

func (workload *Workload) swiftPutFile(file *os.File, buf []byte, sizeKB int64, finalPath string) (err error) {
	var (
		config = workload.config
	)

	err = file.Chmod(0667)
	if nil != err {
		return
	}

	err = platform.Fallocate(file, sizeKB*bytesPerKB)
	if nil != err {
		return
	}

	err = workload.writeRecords(file, buf, sizeKB, false)
	if nil != err {
		return
	}

	for j := int64(0); j < config.XattrCount; j++ {
		_, err = platform.Fgetxattr(file, allXattrName(j))
		if nil != err {
			if !blunder.IsErrno(err, syscall.ENODATA) {
				return
			}
			workload.log.Debugf("xattr %s does not exist", allXattrName(j))
			err = nil
		}
	}

	for j := int64(0); j < config.XattrCount; j++ {
		err = platform.Fsetxattr(file, allXattrName(j), buf[j:j+config.XattrSize], 0)
		if nil != err {
			return
		}
	}

	if config.Fsync {
		// one fsync flushes both data and metadata
		err = file.Sync()
		if nil != err {
			return
		}
	}

	// the object will not be read back any time soon
	err = platform.DropCache(file)
	if nil != err {
		return
	}

	err = os.Rename(file.Name(), finalPath)
	if nil != err {
		return
	}

	workload.state.Rq++

	return
}

// doCleanup removes everything any other Op may have left, ignoring what is
// already gone, then the directory trees. It never stops at a stonewall.
func (workload *Workload) doCleanup() (err error) {
	var (
		config = workload.config
		state  = workload.state
	)

	savedStonewall, savedFinishAll := state.stonewall, state.finishAll
	state.stonewall = false
	state.finishAll = true
	defer func() {
		state.stonewall, state.finishAll = savedStonewall, savedFinishAll
	}()

	err = workload.forEachFile(func() (err error) {
		srcPath := workload.srcPath()
		destPath := workload.destPath()

		for _, filePath := range []string{
			destPath + symlinkSuffix,
			srcPath,
			srcPath + renameSuffix,
			destPath,
			destPath + renameSuffix,
		} {
			err = utils.EnsureDeleted(filePath)
			if nil != err {
				return
			}
		}

		dirPath := srcPath + dirSuffix
		if utils.FileExists(dirPath) {
			err = os.Remove(dirPath)
		}

		return
	})
	if nil != err {
		return
	}

	err = workload.cleanAllSubdirs()
	if nil != err {
		return
	}

	if 0 < config.CleanupDelayUsecPerFile {
		delay := time.Duration(config.CleanupDelayUsecPerFile*config.Iterations*int64(config.TotalThreads())) * time.Microsecond
		workload.log.Infof("waiting %v to give storage time to recycle deleted files", delay)
		workload.sleep(delay)
	}

	return
}
