// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"golang.org/x/sys/unix"
)

// File system magic numbers (see statfs(2)) of file systems on which change
// notification of files written by other hosts cannot be relied upon
var networkFSMagic = map[int64]string{
	0x6969:     "nfs",
	0x517B:     "smb",
	0xFE534D42: "smb2",
	0xFF534D42: "cifs",
	0x65735546: "fuse",
	0x47504653: "gpfs",
	0x0BD00BD0: "lustre",
	0x00C36400: "ceph",
}

// IsNetworkFS reports whether dir lives on a file system shared across hosts
//
// A dir that cannot be examined is treated as networked.
func IsNetworkFS(dir string) bool {
	var (
		statfs unix.Statfs_t
	)

	err := unix.Statfs(dir, &statfs)
	if nil != err {
		return true
	}

	_, ok := networkFSMagic[int64(statfs.Type)]

	return ok
}
