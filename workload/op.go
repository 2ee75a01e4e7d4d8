// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"fmt"
)

// Op selects what a Workload does to each file
type Op int

const (
	OpCreate Op = iota
	OpDelete
	OpAppend
	OpOverwrite
	OpTruncateOverwrite
	OpRead
	OpReaddir
	OpLsL
	OpRename
	OpDeleteRenamed
	OpCleanup
	OpSymlink
	OpMkdir
	OpRmdir
	OpStat
	OpChmod
	OpSetxattr
	OpGetxattr
	OpSwiftGet
	OpSwiftPut
	OpAwaitCreate

	opCount // must be last
)

var opNames = [opCount]string{
	OpCreate:            "create",
	OpDelete:            "delete",
	OpAppend:            "append",
	OpOverwrite:         "overwrite",
	OpTruncateOverwrite: "truncate-overwrite",
	OpRead:              "read",
	OpReaddir:           "readdir",
	OpLsL:               "ls-l",
	OpRename:            "rename",
	OpDeleteRenamed:     "delete-renamed",
	OpCleanup:           "cleanup",
	OpSymlink:           "symlink",
	OpMkdir:             "mkdir",
	OpRmdir:             "rmdir",
	OpStat:              "stat",
	OpChmod:             "chmod",
	OpSetxattr:          "setxattr",
	OpGetxattr:          "getxattr",
	OpSwiftGet:          "swift-get",
	OpSwiftPut:          "swift-put",
	OpAwaitCreate:       "await-create",
}

func (op Op) String() string {
	if (0 > op) || (opCount <= op) {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return opNames[op]
}

// ParseOp returns the Op named name
func ParseOp(name string) (op Op, err error) {
	for op = 0; op < opCount; op++ {
		if opNames[op] == name {
			return
		}
	}
	err = fmt.Errorf("unknown operation %q", name)
	return
}

// AllOps returns every Op in declaration order
func AllOps() (ops []Op) {
	ops = make([]Op, 0, opCount)
	for op := Op(0); op < opCount; op++ {
		ops = append(ops, op)
	}
	return
}

// makesSubdirs reports whether op populates the directory tree up front
func (op Op) makesSubdirs() bool {
	return (OpCreate == op) || (OpMkdir == op) || (OpSwiftPut == op)
}

// writesSeed reports whether op starts a new random sequence rather than replaying a saved one
func (op Op) writesSeed() bool {
	return (OpCreate == op) || (OpSwiftPut == op)
}

// deletesOnly reports whether op can run without the seed of the phase that created the files
func (op Op) deletesOnly() bool {
	return (OpCleanup == op) || (OpRmdir == op) || (OpDelete == op)
}
