// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package platform

import (
	"os"
	"syscall"
)

func Getxattr(path string, name string) (value []byte, err error) {
	err = syscall.ENOTSUP
	return
}

func Setxattr(path string, name string, value []byte, flags int) (err error) {
	err = syscall.ENOTSUP
	return
}

func Fgetxattr(file *os.File, name string) (value []byte, err error) {
	err = syscall.ENOTSUP
	return
}

func Fsetxattr(file *os.File, name string, value []byte, flags int) (err error) {
	err = syscall.ENOTSUP
	return
}

func Fallocate(file *os.File, size int64) (err error) {
	if 0 < size {
		err = syscall.ENOTSUP
	}
	return
}

func DropCache(file *os.File) (err error) {
	err = syscall.ENOTSUP
	return
}

func IsNetworkFS(dir string) bool {
	return false
}
