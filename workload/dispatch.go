// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"time"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/syncfile"
	"github.com/NVIDIA/smallfile/utils"
)

// dispatch runs the handler of the configured Op until doAnotherFile() says stop
func (workload *Workload) dispatch() (err error) {
	switch workload.config.Op {
	case OpCreate:
		err = workload.doCreate()
	case OpDelete:
		err = workload.doDelete()
	case OpAppend:
		err = workload.doWrite(true, false)
	case OpOverwrite:
		err = workload.doWrite(false, false)
	case OpTruncateOverwrite:
		err = workload.doWrite(false, true)
	case OpRead:
		err = workload.doRead()
	case OpReaddir:
		err = workload.doReaddir(false)
	case OpLsL:
		err = workload.doReaddir(true)
	case OpRename:
		err = workload.doRename()
	case OpDeleteRenamed:
		err = workload.doDeleteRenamed()
	case OpCleanup:
		err = workload.doCleanup()
	case OpSymlink:
		err = workload.doSymlink()
	case OpMkdir:
		err = workload.doMkdir()
	case OpRmdir:
		err = workload.doRmdir()
	case OpStat:
		err = workload.doStat()
	case OpChmod:
		err = workload.doChmod()
	case OpSetxattr:
		err = workload.doSetxattr()
	case OpGetxattr:
		err = workload.doGetxattr()
	case OpSwiftGet:
		err = workload.doSwiftGet()
	case OpSwiftPut:
		err = workload.doSwiftPut()
	case OpAwaitCreate:
		err = workload.doAwaitCreate()
	default:
		err = blunder.NewInternalError("no handler for operation %v", workload.config.Op)
	}
	return
}

// forEachFile calls do once per file index that doAnotherFile() hands out
func (workload *Workload) forEachFile(do func() error) (err error) {
	var (
		more bool
	)

	for {
		more, err = workload.doAnotherFile()
		if (nil != err) || !more {
			return
		}
		err = do()
		if nil != err {
			return
		}
	}
}

// doAnotherFile decides whether the thread works on one more file
//
// The abort file and the context are checked every time. The stonewall file
// is only looked for every filesBetweenChecks files.
func (workload *Workload) doAnotherFile() (more bool, err error) {
	var (
		config = workload.config
		state  = workload.state
	)

	if workload.protocol.Abort().Exists() || (nil != workload.ctx.Err()) {
		state.Aborted = true
	}

	if state.stonewall && (0 == (state.FileNum+1)%workload.filesBetweenChecks) {
		stonewall := workload.protocol.Stonewall()
		workload.log.Debugf("checking for stonewall file %s after %d iterations", stonewall.Path, state.FileNum)
		if stonewall.Exists() {
			workload.log.Infof("stonewall file %s seen after %d iterations", stonewall.Path, state.FileNum)
			workload.endTest()
		}
	}

	if !state.finishAll && state.ended {
		return
	}
	if 0 != state.Status {
		workload.endTest()
		return
	}
	if state.FileNum >= config.Iterations {
		workload.endTest()
		return
	}
	if state.Aborted {
		err = blunder.NewCancelledError("thread %s saw abort flag", config.Tid)
		return
	}

	state.FileNum++

	if pause := state.pacer.Pause(); (0 < pause) && (0 == state.FileNum%filesBetweenPause) {
		workload.sleep(pause * filesBetweenPause)
	}

	more = true

	return
}

// endTest closes the measurement window, at most once per run
func (workload *Workload) endTest() {
	var (
		err     error
		outcome syncfile.StonewallOutcome
		state   = workload.state
	)

	if state.ended {
		return
	}

	state.ended = true
	state.RqFinal = state.Rq
	state.FileNumFinal = state.FileNum
	state.EndTime = time.Now()
	state.Elapsed = state.EndTime.Sub(state.StartTime)

	if state.FileNum < workload.config.Iterations {
		return
	}

	outcome, err = workload.protocol.RaiseStonewall()

	switch outcome {
	case syncfile.StonewallCreated:
		workload.log.Infof("stonewall file %s written", workload.protocol.Stonewall().Path)
	case syncfile.StonewallFailed:
		workload.log.Errorf("unable to write stonewall file %s: %v", workload.protocol.Stonewall().Path, err)
		state.Err = err
		state.Status = blunder.Status(err)
	}
}

// sleep pauses the thread, returning early if its context is cancelled
func (workload *Workload) sleep(duration time.Duration) {
	timer := time.NewTimer(duration)
	select {
	case <-workload.ctx.Done():
		timer.Stop()
	case <-timer.C:
	}
}

// pollSleep sleeps between polls of a condition some other thread or host will satisfy
func (workload *Workload) pollSleep(duration time.Duration) (err error) {
	workload.sleep(duration)

	if nil != workload.ctx.Err() {
		err = blunder.NewCancelledError("thread %s cancelled: %v", workload.config.Tid, workload.ctx.Err())
		return
	}
	if workload.protocol.Abort().Exists() {
		err = blunder.NewCancelledError("thread %s saw abort flag", workload.config.Tid)
	}

	return
}

// opStart marks the start of a timed operation
func (workload *Workload) opStart() {
	workload.state.stopwatch = utils.NewStopwatch()
}

// opStartedAt marks a timed operation as having started at startTime
func (workload *Workload) opStartedAt(startTime time.Time) {
	workload.state.stopwatch = utils.NewStopwatchAt(startTime)
}

// opEnd records the response time of the operation started by opStart()
func (workload *Workload) opEnd(opName string) {
	var (
		state = workload.state
		stats = workload.stats
	)

	rsp := state.stopwatch.Stop()
	end := state.stopwatch.StopTime

	if workload.config.ResponseTimes {
		state.rspTimes = append(state.rspTimes, rspTime{opName: opName, start: state.stopwatch.StartTime, rsp: rsp})
	}

	usec := uint64(0)
	if 0 < rsp {
		usec = uint64(rsp / time.Microsecond)
	}

	switch opName {
	case lsLReaddirOpName:
		stats.ReaddirUsec.Add(usec)
	case lsLStatOpName:
		stats.StatUsec.Add(usec)
	default:
		stats.OpUsec.Add(usec)
	}

	state.pacer.Observe(end, rsp)
}
