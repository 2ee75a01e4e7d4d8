// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"time"

	"github.com/NVIDIA/smallfile/bucketstats"
	"github.com/NVIDIA/smallfile/pacing"
	"github.com/NVIDIA/smallfile/utils"
)

// State is what one thread has done so far in the current run
//
// It is owned by the thread running the Workload. Read it only after Run() returns.
type State struct {
	FileNum      int64 // index of the file being worked on, files are numbered from 1
	FileNumFinal int64 // FileNum when the measurement window closed
	Rq           int64 // reads and writes issued
	RqFinal      int64 // Rq when the measurement window closed
	StartTime    time.Time
	EndTime      time.Time
	Elapsed      time.Duration
	Status       int // 0 on success, otherwise an errno-style code
	Err          error
	Aborted      bool

	dirNames  []string
	rspTimes  []rspTime
	stopwatch *utils.Stopwatch
	pacer     pacing.Controller
	stonewall bool
	finishAll bool
	ended     bool
}

// Stats accumulates per thread counters and response time distributions in microseconds
//
// OpUsec times the configured Op. ls-l times its listings in ReaddirUsec and
// its per file stat() calls in StatUsec. FileBytes averages the size of each
// file written or read in full.
type Stats struct {
	BytesWritten bucketstats.Total
	BytesRead    bucketstats.Total
	FileBytes    bucketstats.Average
	OpUsec       bucketstats.BucketLog2Round
	ReaddirUsec  bucketstats.BucketLog2Round
	StatUsec     bucketstats.BucketLog2Round
}

func newState(config *Config) (state *State) {
	state = &State{
		stonewall: config.Stonewall,
		finishAll: config.FinishAllRequests,
	}

	if config.AutoPause {
		state.pacer = pacing.NewLittleLaw(pacing.LittleLawConfig{
			Participants:    config.TotalThreads(),
			HistoryDuration: config.PauseHistoryDuration,
		})
	} else {
		state.pacer = pacing.NewStatic(config.Pause)
	}

	return
}

// TestEnded reports whether the measurement window has closed
func (state *State) TestEnded() bool {
	return state.ended
}

// FilesPerSec is the throughput over the measurement window
func (state *State) FilesPerSec() float64 {
	if 0 >= state.Elapsed {
		return 0
	}
	return float64(state.FileNumFinal) / state.Elapsed.Seconds()
}
