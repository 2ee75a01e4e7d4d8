// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package syncfile

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/smallfile/blunder"
)

var testBackoff = Backoff{
	Initial:    10 * time.Millisecond,
	Multiplier: 1.5,
	Max:        50 * time.Millisecond,
}

func TestBackoff(t *testing.T) {
	assert := assert.New(t)

	delay := DefaultBackoff.Initial
	delay = DefaultBackoff.Next(delay)
	assert.Equal(150*time.Millisecond, delay)
	for i := 0; i < 20; i++ {
		delay = DefaultBackoff.Next(delay)
	}
	assert.Equal(2*time.Second, delay)
}

func TestSignalFile(t *testing.T) {
	assert := assert.New(t)

	signalFile := NewSignalFile(filepath.Join(t.TempDir(), "signal.tmp"))
	assert.False(signalFile.Exists())

	created, err := signalFile.CreateIfAbsent()
	assert.Nil(err)
	assert.True(created)

	created, err = signalFile.CreateIfAbsent()
	assert.Nil(err)
	assert.False(created)
	assert.True(signalFile.Exists())

	modTime, err := signalFile.ModTime()
	assert.Nil(err)
	assert.WithinDuration(time.Now(), modTime, time.Minute)

	assert.Nil(signalFile.Remove())
	assert.Nil(signalFile.Remove())
	assert.False(signalFile.Exists())

	_, err = NewSignalFile(filepath.Join(t.TempDir(), "absent", "signal.tmp")).CreateIfAbsent()
	assert.True(blunder.IsErrno(err, syscall.ENOENT))
}

func TestWaitWithBackoff(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	signalFile := NewSignalFile(filepath.Join(dir, "gate.tmp"))
	abort := NewSignalFile(filepath.Join(dir, "abort.tmp"))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = signalFile.Touch()
	}()

	start := time.Now()
	err := signalFile.WaitWithBackoff(context.Background(), testBackoff, abort)
	assert.Nil(err)
	assert.True(time.Since(start) < 5*time.Second)

	other := NewSignalFile(filepath.Join(dir, "never.tmp"))

	assert.Nil(abort.Touch())
	err = other.WaitWithBackoff(context.Background(), testBackoff, abort)
	assert.Equal(blunder.FailureCancelled, blunder.FailureKindOf(err))
	assert.Equal(int(syscall.ECANCELED), blunder.Status(err))
	assert.Nil(abort.Remove())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err = other.WaitWithBackoff(ctx, testBackoff, nil)
	assert.Equal(blunder.FailureCancelled, blunder.FailureKindOf(err))
}

func TestWaitForGate(t *testing.T) {
	assert := assert.New(t)

	tmpDir := t.TempDir()
	networkDir := t.TempDir()

	noGate := NewProtocol(tmpDir, networkDir, "")
	synchTime, err := noGate.WaitForGate(context.Background(), "00")
	assert.Nil(err)
	assert.Equal(time.Duration(0), synchTime)
	assert.False(noGate.ThreadReady("00").Exists())
	assert.Nil(noGate.StartingGate())

	protocol := NewProtocol(tmpDir, networkDir, filepath.Join(networkDir, "starting_gate.tmp"))
	protocol.Skew = 200 * time.Millisecond
	protocol.Backoff = testBackoff

	assert.Equal(filepath.Join(tmpDir, "thread_ready.01.tmp"), protocol.ThreadReady("01").Path)
	assert.Equal(filepath.Join(tmpDir, "thread_ready.01.tmp.seed"), protocol.SeedFilePath("01"))
	assert.Equal(filepath.Join(networkDir, "abort.tmp"), protocol.Abort().Path)
	assert.Equal(filepath.Join(networkDir, "stonewall.tmp"), protocol.Stonewall().Path)

	go func() {
		for !protocol.ThreadReady("01").Exists() {
			time.Sleep(5 * time.Millisecond)
		}
		_ = protocol.StartingGate().Touch()
	}()

	start := time.Now()
	synchTime, err = protocol.WaitForGate(context.Background(), "01")
	assert.Nil(err)
	assert.True(synchTime <= 200*time.Millisecond)
	assert.True(time.Since(start) >= synchTime)

	// a gate stamped long ago releases immediately with a negative synch time
	old := time.Now().Add(-time.Hour)
	assert.Nil(os.Chtimes(protocol.Gate, old, old))
	synchTime, err = protocol.WaitForGate(context.Background(), "02")
	assert.Nil(err)
	assert.True(0 > synchTime)

	assert.Nil(protocol.ClearRun([]string{"01", "02"}))
	assert.False(protocol.StartingGate().Exists())
	assert.False(protocol.ThreadReady("01").Exists())

	assert.Nil(protocol.Abort().Touch())
	_, err = protocol.WaitForGate(context.Background(), "03")
	assert.Equal(blunder.FailureCancelled, blunder.FailureKindOf(err))
}

func TestRaiseStonewall(t *testing.T) {
	assert := assert.New(t)

	protocol := NewProtocol(t.TempDir(), t.TempDir(), "")

	outcome, err := protocol.RaiseStonewall()
	assert.Nil(err)
	assert.Equal(StonewallCreated, outcome)

	outcome, err = protocol.RaiseStonewall()
	assert.Nil(err)
	assert.Equal(StonewallPresent, outcome)

	missing := NewProtocol(t.TempDir(), filepath.Join(t.TempDir(), "absent"), "")

	outcome, err = missing.RaiseStonewall()
	assert.Equal(StonewallFailed, outcome)
	assert.True(blunder.IsErrno(err, syscall.ENOENT))

	missing.Tolerate = append(missing.Tolerate, syscall.ENOENT)
	outcome, err = missing.RaiseStonewall()
	assert.Nil(err)
	assert.Equal(StonewallTolerated, outcome)
	assert.Equal("tolerated", outcome.String())
}
