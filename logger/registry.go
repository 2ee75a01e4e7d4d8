// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Worker is the logger handed to a single workload thread
//
// Entries carry a "tid" field. Debugf() is only emitted when the Worker was
// acquired verbose.
type Worker struct {
	*log.Entry
	tid      string
	verbose  bool
	refCount int
	file     *os.File
}

// Registry hands out one Worker per thread id, creating its log sink on first
// use and closing it when the last user releases it.
type Registry struct {
	sync.Mutex
	dir      string
	toStderr bool
	workers  map[string]*Worker
}

// WorkerLogFileName returns the name of the per-thread log file kept under a Registry's directory
func WorkerLogFileName(tid string) string {
	return fmt.Sprintf("invoke_logs-%s.log", tid)
}

// NewRegistry returns a Registry whose Workers log to dir/invoke_logs-<tid>.log,
// or to stderr when toStderr is set.
func NewRegistry(dir string, toStderr bool) (registry *Registry) {
	registry = &Registry{
		dir:      dir,
		toStderr: toStderr,
		workers:  make(map[string]*Worker),
	}
	return
}

// Acquire returns the Worker for tid, creating it if needed
func (registry *Registry) Acquire(tid string, verbose bool) (worker *Worker, err error) {
	var (
		file    *os.File
		logrusL *log.Logger
		ok      bool
	)

	registry.Lock()
	defer registry.Unlock()

	worker, ok = registry.workers[tid]
	if ok {
		worker.refCount++
		if verbose {
			worker.verbose = true
			worker.Logger.SetLevel(log.DebugLevel)
		}
		return
	}

	logrusL = log.New()
	logrusL.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})

	if registry.toStderr {
		logrusL.SetOutput(os.Stderr)
	} else {
		file, err = os.OpenFile(filepath.Join(registry.dir, WorkerLogFileName(tid)), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if nil != err {
			worker = nil
			return
		}
		logrusL.SetOutput(file)
	}

	if verbose {
		logrusL.SetLevel(log.DebugLevel)
	} else {
		logrusL.SetLevel(log.InfoLevel)
	}

	worker = &Worker{
		Entry:    logrusL.WithField("tid", tid),
		tid:      tid,
		verbose:  verbose,
		refCount: 1,
		file:     file,
	}

	registry.workers[tid] = worker

	return
}

// Release drops one reference to tid's Worker, closing its sink on the last one
func (registry *Registry) Release(tid string) (err error) {
	registry.Lock()
	defer registry.Unlock()

	worker, ok := registry.workers[tid]
	if !ok {
		err = fmt.Errorf("logger.Registry.Release(): no Worker for tid %v", tid)
		return
	}

	worker.refCount--
	if 0 < worker.refCount {
		return
	}

	delete(registry.workers, tid)

	err = worker.close()

	return
}

// Len returns the number of live Workers
func (registry *Registry) Len() (numWorkers int) {
	registry.Lock()
	numWorkers = len(registry.workers)
	registry.Unlock()
	return
}

// Close closes every remaining Worker regardless of outstanding references
func (registry *Registry) Close() (err error) {
	registry.Lock()
	defer registry.Unlock()

	for tid, worker := range registry.workers {
		closeErr := worker.close()
		if (nil == err) && (nil != closeErr) {
			err = closeErr
		}
		delete(registry.workers, tid)
	}

	return
}

// Tid returns the thread id this Worker logs for
func (worker *Worker) Tid() string {
	return worker.tid
}

// Verbose reports whether Debugf() output is emitted
func (worker *Worker) Verbose() bool {
	return worker.verbose
}

func (worker *Worker) close() (err error) {
	if nil != worker.file {
		err = worker.file.Close()
		worker.file = nil
		worker.Logger.SetOutput(os.Stderr)
	}
	return
}
