// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package platform provides the optional, OS specific file system features a
// workload may exercise: extended attributes, space pre-allocation, page cache
// dropping and detection of network file systems.
//
// On platforms lacking a feature the corresponding call returns syscall.ENOTSUP.
package platform

import (
	"io/ioutil"
	"os"
)

const (
	// XattrCreate fails a set if the attribute already exists
	XattrCreate = 0x1
	// XattrReplace fails a set if the attribute does not already exist
	XattrReplace = 0x2
)

const xattrCheckName = "user.smallfile-check"

// XattrSupported reports whether files created in dir accept user.* extended attributes
func XattrSupported(dir string) bool {
	checkFile, err := ioutil.TempFile(dir, ".xattr-check-")
	if nil != err {
		return false
	}
	defer func() {
		_ = checkFile.Close()
		_ = os.Remove(checkFile.Name())
	}()

	err = Fsetxattr(checkFile, xattrCheckName, []byte("1"), 0)
	if nil != err {
		return false
	}

	value, err := Fgetxattr(checkFile, xattrCheckName)

	return (nil == err) && ("1" == string(value))
}
