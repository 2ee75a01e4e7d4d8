// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// Getxattr returns the value of attribute name of path
func Getxattr(path string, name string) (value []byte, err error) {
	var (
		size int
	)

	for {
		size, err = unix.Getxattr(path, name, nil)
		if nil != err {
			return
		}

		value = make([]byte, size)

		size, err = unix.Getxattr(path, name, value)
		if unix.ERANGE == err {
			// Value grew between the two calls
			continue
		}
		if nil != err {
			value = nil
			return
		}

		value = value[:size]
		return
	}
}

// Setxattr sets attribute name of path to value
func Setxattr(path string, name string, value []byte, flags int) (err error) {
	err = unix.Setxattr(path, name, value, flags)
	return
}

// Fgetxattr returns the value of attribute name of the open file
func Fgetxattr(file *os.File, name string) (value []byte, err error) {
	var (
		size int
	)

	for {
		size, err = unix.Fgetxattr(int(file.Fd()), name, nil)
		if nil != err {
			return
		}

		value = make([]byte, size)

		size, err = unix.Fgetxattr(int(file.Fd()), name, value)
		if unix.ERANGE == err {
			continue
		}
		if nil != err {
			value = nil
			return
		}

		value = value[:size]
		return
	}
}

// Fsetxattr sets attribute name of the open file to value
func Fsetxattr(file *os.File, name string, value []byte, flags int) (err error) {
	err = unix.Fsetxattr(int(file.Fd()), name, value, flags)
	return
}

// Fallocate reserves size bytes for file starting at offset 0
func Fallocate(file *os.File, size int64) (err error) {
	if 0 >= size {
		return
	}
	err = unix.Fallocate(int(file.Fd()), 0, 0, size)
	return
}

// DropCache advises the kernel that file's cached pages will not be needed again
func DropCache(file *os.File) (err error) {
	err = unix.Fadvise(int(file.Fd()), 0, 0, unix.FADV_DONTNEED)
	return
}
