// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package workload runs one thread of a small-file benchmark: it walks file
// indices 1..Iterations, applying one Op to the file each index maps to, and
// records how long that took.
//
// Threads on the same or on different hosts never talk to each other
// directly. They line up at a starting gate, and the first to finish raises
// a stonewall, all through files managed by package syncfile.
package workload

import (
	"context"
	"io/ioutil"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/cityhash"
	"github.com/dustin/go-humanize"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/bufgen"
	"github.com/NVIDIA/smallfile/dirtree"
	"github.com/NVIDIA/smallfile/logger"
	"github.com/NVIDIA/smallfile/syncfile"
	"github.com/NVIDIA/smallfile/utils"
)

const (
	bytesPerKB = 1024

	// an exponentially distributed file is at most this many times the mean size
	randomSizeLimit = 8

	// with a non-zero file size the stonewall is polled this often at the smallest sizes
	maxFilesBetweenChecks = 100
	minFilesBetweenChecks = 10

	// the pacing pause is slept once per this many files
	filesBetweenPause = 5
)

// Workload is one thread's run of a Config
type Workload struct {
	config             *Config
	registry           *logger.Registry
	protocol           *syncfile.Protocol
	layout             dirtree.Layout
	naming             dirtree.Naming
	log                *logger.Worker
	ctx                context.Context
	rand               *rand.Rand
	buffer             *bufgen.Buffer
	filesBetweenChecks int64
	state              *State
	stats              *Stats
}

// New returns a Workload ready to Run()
//
// Per thread logs go to registry. A nil registry logs to a private one under
// config.TmpDir.
func New(config *Config, registry *logger.Registry) (workload *Workload, err error) {
	err = config.Validate()
	if nil != err {
		return
	}

	if nil == registry {
		registry = logger.NewRegistry(config.TmpDir, config.LogToStderr)
	}

	protocol := syncfile.NewProtocol(config.TmpDir, config.NetworkDir, config.StartingGate)
	protocol.Skew = config.GateSkew
	protocol.Backoff = config.GateBackoff
	protocol.Tolerate = config.StonewallTolerate

	workload = &Workload{
		config:   config,
		registry: registry,
		protocol: protocol,
		layout: dirtree.Layout{
			FilesPerDir: config.FilesPerDir,
			DirsPerDir:  config.DirsPerDir,
			Iterations:  config.Iterations,
			Hashed:      config.HashIntoDirs,
		},
		naming: dirtree.Naming{
			Prefix: config.Prefix,
			Host:   config.Host,
			Tid:    config.Tid,
			Suffix: config.Suffix,
		},
		state: newState(config),
		stats: &Stats{},
	}

	return
}

func (workload *Workload) Config() *Config {
	return workload.config
}

// State returns the results of the most recent Run()
func (workload *Workload) State() *State {
	return workload.state
}

func (workload *Workload) Stats() *Stats {
	return workload.stats
}

// Protocol returns the signal files this Workload synchronizes through
func (workload *Workload) Protocol() *syncfile.Protocol {
	return workload.protocol
}

// Run performs the whole run, returning the error that ended it early, if any
//
// The outcome is also left in State(): Status is 0 on success and an
// errno-style code otherwise.
func (workload *Workload) Run(ctx context.Context) (err error) {
	var (
		config = workload.config
	)

	workload.ctx = ctx
	workload.state = newState(config)
	workload.stats = &Stats{}
	workload.state.dirNames = workload.layout.DirNames(config.Iterations + config.FilesPerDir)

	err = utils.EnsureDirExists(config.TmpDir)
	if nil != err {
		workload.recordFailure(err)
		return
	}

	workload.log, err = workload.registry.Acquire(config.Tid, config.Verbose)
	if nil != err {
		workload.recordFailure(err)
		return
	}
	defer func() {
		releaseErr := workload.registry.Release(config.Tid)
		if nil != releaseErr {
			logger.WarnfWithError(releaseErr, "releasing log of thread %s", config.Tid)
		}
	}()

	workload.log.Infof("do_workload: %v", config)

	err = workload.prepare()
	if nil == err {
		_, err = workload.protocol.WaitForGate(ctx, config.Tid)
	}
	if nil == err {
		workload.state.StartTime = time.Now()
		workload.log.Debugf("started test at %v", workload.state.StartTime)
		err = workload.dispatch()
	}

	if nil != err {
		workload.recordFailure(err)
		if !workload.state.StartTime.IsZero() {
			workload.endTest()
		}
	}

	if config.ResponseTimes && !workload.state.StartTime.IsZero() {
		saveErr := workload.saveRspTimes()
		if nil != saveErr {
			workload.log.Errorf("saving response times: %v", saveErr)
			if nil == err {
				err = saveErr
				workload.recordFailure(err)
			}
		}
	}

	if 0 != workload.state.Status {
		workload.log.Errorf("invocation did not complete cleanly")
		if nil == err {
			err = workload.state.Err
		}
	}
	if workload.state.FileNum != config.Iterations {
		workload.log.Infof("recorded throughput after %d files", workload.state.FileNum)
	}
	workload.log.Infof("finished %v, %s written, %s read", config.Op,
		humanize.IBytes(workload.stats.BytesWritten.TotalGet()), humanize.IBytes(workload.stats.BytesRead.TotalGet()))

	return
}

// prepare does everything that must happen before the thread reaches the starting gate
func (workload *Workload) prepare() (err error) {
	var (
		config = workload.config
	)

	err = utils.EnsureDirExists(config.NetworkDir)
	if nil != err {
		return
	}

	if config.Op.makesSubdirs() {
		err = workload.makeAllSubdirs()
		if nil != err {
			return
		}
	}

	err = workload.initRandomSeed()
	if nil != err {
		return
	}

	workload.buffer = bufgen.Generate(workload.rand, config.Incompressible, false)

	workload.filesBetweenChecks = filesBetweenChecks(config)

	return
}

// filesBetweenChecks shrinks the stonewall polling interval as files get bigger
func filesBetweenChecks(config *Config) (checks int64) {
	if 0 >= config.TotalSizeKB {
		checks = config.FilesBetweenChecks
		return
	}

	checks = int64(maxFilesBetweenChecks - float64(config.TotalSizeKB)/100)
	if minFilesBetweenChecks > checks {
		checks = minFilesBetweenChecks
	}

	return
}

// initRandomSeed seeds the random sequence that picks file sizes and fills the buffer
//
// Phases that create files persist the seed so that later phases regenerate
// the same sizes and contents.
func (workload *Workload) initRandomSeed() (err error) {
	var (
		config   = workload.config
		contents []byte
		seedPath = workload.protocol.SeedFilePath(config.Tid)
		seedText = strconv.FormatFloat(float64(time.Now().UnixNano())/float64(time.Second), 'f', 6, 64)
	)

	if config.Op.writesSeed() {
		seedText += " " + config.Tid
		err = utils.EnsureDeleted(seedPath)
		if nil != err {
			return
		}
		err = utils.WriteSyncFile(seedPath, []byte(seedText))
		if nil != err {
			return
		}
		workload.log.Debugf("write seed %s", seedText)
	} else {
		contents, err = ioutil.ReadFile(seedPath)
		if nil == err {
			seedText = strings.TrimSpace(strings.SplitN(string(contents), "\n", 2)[0])
			workload.log.Debugf("read seed %s", seedText)
		} else if os.IsNotExist(err) && config.Op.deletesOnly() {
			workload.log.Infof("no saved random seed found in %s but it does not matter for deletes", seedPath)
		} else {
			workload.log.Warnf("no saved random seed in %s (%v), file sizes and contents will not match earlier phases", seedPath, err)
		}
		err = nil
	}

	workload.rand = rand.New(rand.NewSource(int64(cityhash.Hash64([]byte(seedText)))))

	return
}

func (workload *Workload) recordFailure(err error) {
	var (
		state = workload.state
	)

	state.Err = err
	state.Status = blunder.Status(err)
	if blunder.FailureCancelled == blunder.FailureKindOf(err) {
		state.Aborted = true
	}

	if nil == workload.log {
		logger.ErrorfWithError(err, "thread %s %v failed", workload.config.Tid, workload.config.Op)
		return
	}

	workload.log.WithField("kind", blunder.FailureKindOf(err).String()).
		Errorf("%v failed with status %d: %s", workload.config.Op, state.Status, blunder.ErrorString(err))
	workload.log.Debugf("%s", blunder.Details(err))
}
