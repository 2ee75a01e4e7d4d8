// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package syncfile coordinates workload threads, on one host or many, purely
// through files in shared directories.
//
// Each thread announces it reached the starting gate with a thread-ready file
// in its host's TmpDir and then waits for the starting gate file to appear.
// Any participant may create the abort file in NetworkDir to cancel the run.
// The first thread to finish its iterations creates the stonewall file in
// NetworkDir, closing the measurement window for everyone.
package syncfile

import (
	"context"
	"path/filepath"
	"syscall"
	"time"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/logger"
)

// DefaultSkew is how long after the gate's modification time all threads start
const DefaultSkew = 3 * time.Second

// StonewallOutcome reports what RaiseStonewall() observed
type StonewallOutcome int

const (
	StonewallCreated StonewallOutcome = iota
	StonewallPresent
	StonewallTolerated
	StonewallFailed
)

func (outcome StonewallOutcome) String() string {
	switch outcome {
	case StonewallCreated:
		return "created"
	case StonewallPresent:
		return "present"
	case StonewallTolerated:
		return "tolerated"
	case StonewallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Protocol locates the signal files of one run
//
// Tolerate lists errnos that creating the stonewall file may fail with
// without failing the thread. EINVAL is included by default as some network
// file systems return it spuriously.
type Protocol struct {
	TmpDir     string
	NetworkDir string
	Gate       string
	Skew       time.Duration
	Backoff    Backoff
	Tolerate   []syscall.Errno
}

// NewProtocol returns a Protocol with the default skew, backoff and tolerated errnos
func NewProtocol(tmpDir string, networkDir string, gate string) (protocol *Protocol) {
	protocol = &Protocol{
		TmpDir:     tmpDir,
		NetworkDir: networkDir,
		Gate:       gate,
		Skew:       DefaultSkew,
		Backoff:    DefaultBackoff,
		Tolerate:   []syscall.Errno{syscall.EINVAL},
	}
	return
}

func (protocol *Protocol) ThreadReady(tid string) *SignalFile {
	return NewSignalFile(filepath.Join(protocol.TmpDir, "thread_ready."+tid+".tmp"))
}

// SeedFilePath returns where tid's random seed persists between phases
func (protocol *Protocol) SeedFilePath(tid string) string {
	return protocol.ThreadReady(tid).Path + ".seed"
}

func (protocol *Protocol) Abort() *SignalFile {
	return NewSignalFile(filepath.Join(protocol.NetworkDir, "abort.tmp"))
}

func (protocol *Protocol) Stonewall() *SignalFile {
	return NewSignalFile(filepath.Join(protocol.NetworkDir, "stonewall.tmp"))
}

// StartingGate returns nil when the run has no starting gate
func (protocol *Protocol) StartingGate() *SignalFile {
	if "" == protocol.Gate {
		return nil
	}
	return NewSignalFile(protocol.Gate)
}

// WaitForGate announces tid is ready and blocks until the run starts
//
// synchTime is how long after observing the gate the thread slept to line up
// with the other participants. A negative synchTime means the gate was seen
// late and the thread started immediately. Without a starting gate the call
// returns at once.
func (protocol *Protocol) WaitForGate(ctx context.Context, tid string) (synchTime time.Duration, err error) {
	var (
		gate     *SignalFile
		gateTime time.Time
		timer    *time.Timer
	)

	gate = protocol.StartingGate()
	if nil == gate {
		return
	}

	err = protocol.ThreadReady(tid).Touch()
	if nil != err {
		return
	}

	err = gate.WaitWithBackoff(ctx, protocol.Backoff, protocol.Abort())
	if nil != err {
		logger.Warnf("thread %s: %v", tid, err)
		return
	}

	gateTime, err = gate.ModTime()
	if nil != err {
		return
	}

	synchTime = time.Until(gateTime.Add(protocol.Skew))

	if 0 < synchTime {
		timer = time.NewTimer(synchTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = blunder.NewCancelledError("thread %s cancelled at starting gate: %v", tid, ctx.Err())
			return
		case <-timer.C:
		}
	} else if 0 > synchTime {
		logger.Warnf("thread %s: other threads may have already started (gate seen %v late)", tid, -synchTime)
	}

	return
}

// RaiseStonewall creates the stonewall file unless it already exists
//
// A non-nil err is only returned with StonewallFailed.
func (protocol *Protocol) RaiseStonewall() (outcome StonewallOutcome, err error) {
	var (
		created bool
	)

	stonewall := protocol.Stonewall()

	if stonewall.Exists() {
		outcome = StonewallPresent
		return
	}

	created, err = stonewall.CreateIfAbsent()
	if nil == err {
		if created {
			outcome = StonewallCreated
		} else {
			outcome = StonewallPresent
		}
		return
	}

	for _, errno := range protocol.Tolerate {
		if blunder.IsErrno(err, errno) {
			logger.Infof("saw %v creating stonewall file %s, ignoring it", errno, stonewall.Path)
			outcome = StonewallTolerated
			err = nil
			return
		}
	}

	outcome = StonewallFailed

	return
}

// ClearRun removes the signal files a previous run may have left behind
func (protocol *Protocol) ClearRun(tids []string) (err error) {
	var (
		signalFiles []*SignalFile
	)

	signalFiles = append(signalFiles, protocol.Abort(), protocol.Stonewall())
	if gate := protocol.StartingGate(); nil != gate {
		signalFiles = append(signalFiles, gate)
	}
	for _, tid := range tids {
		signalFiles = append(signalFiles, protocol.ThreadReady(tid))
	}

	for _, signalFile := range signalFiles {
		err = signalFile.Remove()
		if nil != err {
			return
		}
	}

	return
}
