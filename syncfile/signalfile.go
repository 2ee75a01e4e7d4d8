// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package syncfile

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/logger"
	"github.com/NVIDIA/smallfile/platform"
	"github.com/NVIDIA/smallfile/utils"
)

// Backoff describes a polling schedule that grows geometrically up to a ceiling
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoff polls after 0.15s, 0.225s, ... capped at 2s
var DefaultBackoff = Backoff{
	Initial:    100 * time.Millisecond,
	Multiplier: 1.5,
	Max:        2 * time.Second,
}

// Next returns the delay that follows delay
func (backoff *Backoff) Next(delay time.Duration) (next time.Duration) {
	next = time.Duration(float64(delay) * backoff.Multiplier)
	if next > backoff.Max {
		next = backoff.Max
	}
	if 0 >= next {
		next = backoff.Max
	}
	return
}

// SignalFile is a file whose existence is the signal
//
// Creation is the only write; readers only test for existence or look at the
// modification time, so a SignalFile works across hosts sharing a file system.
type SignalFile struct {
	Path string
}

func NewSignalFile(path string) (signalFile *SignalFile) {
	signalFile = &SignalFile{Path: path}
	return
}

// CreateIfAbsent creates the file exclusively, reporting whether this call created it
func (signalFile *SignalFile) CreateIfAbsent() (created bool, err error) {
	file, err := os.OpenFile(signalFile.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if nil != err {
		if os.IsExist(err) {
			err = nil
		}
		return
	}

	created = true
	err = file.Close()

	return
}

// Touch creates the file if absent
func (signalFile *SignalFile) Touch() (err error) {
	err = utils.Touch(signalFile.Path)
	return
}

func (signalFile *SignalFile) Exists() bool {
	return utils.FileExists(signalFile.Path)
}

func (signalFile *SignalFile) ModTime() (modTime time.Time, err error) {
	info, err := os.Stat(signalFile.Path)
	if nil != err {
		return
	}
	modTime = info.ModTime()
	return
}

// Remove deletes the file, treating an already absent file as success
func (signalFile *SignalFile) Remove() (err error) {
	err = utils.EnsureDeleted(signalFile.Path)
	return
}

// WaitWithBackoff blocks until the file exists
//
// Between polls it sleeps per backoff, checking abort (if non-nil) before
// each sleep. On a local file system the parent directory is also watched so
// that creation ends the sleep early.
func (signalFile *SignalFile) WaitWithBackoff(ctx context.Context, backoff Backoff, abort *SignalFile) (err error) {
	var (
		delay       time.Duration
		ok          bool
		timer       *time.Timer
		wakeup      <-chan fsnotify.Event
		watchErrors <-chan error
		watcher     *fsnotify.Watcher
	)

	watcher = signalFile.watchParent()
	if nil != watcher {
		defer watcher.Close()
		wakeup = watcher.Events
		watchErrors = watcher.Errors
	}

	delay = backoff.Initial

	for !signalFile.Exists() {
		if (nil != abort) && abort.Exists() {
			err = blunder.NewCancelledError("saw abort file %s while waiting for %s", abort.Path, signalFile.Path)
			return
		}

		delay = backoff.Next(delay)
		timer = time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			err = blunder.NewCancelledError("wait for %s: %v", signalFile.Path, ctx.Err())
			return
		case _, ok = <-wakeup:
			timer.Stop()
			if !ok {
				wakeup = nil
			}
		case _, ok = <-watchErrors:
			timer.Stop()
			if !ok {
				watchErrors = nil
			}
		case <-timer.C:
		}
	}

	err = nil
	return
}

func (signalFile *SignalFile) watchParent() (watcher *fsnotify.Watcher) {
	dir := filepath.Dir(signalFile.Path)

	if platform.IsNetworkFS(dir) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if nil != err {
		logger.Tracef("fsnotify.NewWatcher() failed: %v", err)
		return nil
	}

	err = watcher.Add(dir)
	if nil != err {
		logger.Tracef("watch of %s failed: %v", dir, err)
		_ = watcher.Close()
		return nil
	}

	return
}
