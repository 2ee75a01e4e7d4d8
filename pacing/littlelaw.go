// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package pacing

import (
	"time"

	"github.com/NVIDIA/smallfile/logger"
)

// minimum window length used when computing a throughput estimate
const minWindowElapsed = 1e-6

// LittleLawConfig holds the parameters of a LittleLaw controller
//
// Zero values select DefaultRingSize, DefaultHistoryDuration and SmoothedStrategy.
type LittleLawConfig struct {
	Participants    int
	RingSize        int
	HistoryDuration time.Duration
	Strategy        Strategy
}

// LittleLaw is the adaptive Controller
//
// It is owned by a single workload thread and is not safe for concurrent use.
type LittleLaw struct {
	participants     int
	throttlingFactor float64
	historyDuration  float64
	strategy         Strategy
	ring             []float64
	index            int
	sampleCount      int
	seeded           bool
	windowStart      float64
	pause            float64
	recalculations   int
}

func NewLittleLaw(config LittleLawConfig) (littleLaw *LittleLaw) {
	if 0 >= config.Participants {
		config.Participants = 1
	}
	if 0 >= config.RingSize {
		config.RingSize = DefaultRingSize
	}
	if 0 >= config.HistoryDuration {
		config.HistoryDuration = DefaultHistoryDuration
	}
	if nil == config.Strategy {
		config.Strategy = SmoothedStrategy{}
	}

	littleLaw = &LittleLaw{
		participants:     config.Participants,
		throttlingFactor: ThrottlingFactor(config.Participants),
		historyDuration:  config.HistoryDuration.Seconds(),
		strategy:         config.Strategy,
		ring:             make([]float64, config.RingSize),
	}

	return
}

// Observe records an operation that completed at end after taking rsp
func (littleLaw *LittleLaw) Observe(end time.Time, rsp time.Duration) {
	var (
		endSeconds = float64(end.UnixNano()) / float64(time.Second)
		rspSeconds = rsp.Seconds()
	)

	if !littleLaw.seeded {
		// get the right order of magnitude for the response time estimate immediately
		for i := range littleLaw.ring {
			littleLaw.ring[i] = rspSeconds
		}
		littleLaw.index = 1 % len(littleLaw.ring)
		littleLaw.sampleCount = 1
		littleLaw.windowStart = endSeconds - rspSeconds
		littleLaw.pause = littleLaw.throttlingFactor * rspSeconds
		littleLaw.seeded = true
		logger.Tracef("per-thread pause initialized to %9.6f", littleLaw.pause)
		return
	}

	littleLaw.ring[littleLaw.index] = rspSeconds
	littleLaw.index++
	if littleLaw.index >= len(littleLaw.ring) {
		littleLaw.index = 0
	}
	littleLaw.sampleCount++

	if (littleLaw.windowStart+littleLaw.historyDuration < endSeconds) || (littleLaw.sampleCount > len(littleLaw.ring)/2) {
		littleLaw.recalculate(endSeconds)
		littleLaw.windowStart = endSeconds
		littleLaw.sampleCount = 0
	}
}

func (littleLaw *LittleLaw) recalculate(endSeconds float64) {
	var (
		sum float64
	)

	for _, rsp := range littleLaw.ring {
		sum += rsp
	}

	window := &Window{
		MeanResponse:     sum / float64(len(littleLaw.ring)),
		Samples:          littleLaw.sampleCount,
		Elapsed:          endSeconds - littleLaw.windowStart,
		Participants:     littleLaw.participants,
		ThrottlingFactor: littleLaw.throttlingFactor,
	}
	if minWindowElapsed > window.Elapsed {
		window.Elapsed = minWindowElapsed
	}

	oldPause := littleLaw.pause
	littleLaw.pause = littleLaw.strategy.NextPause(oldPause, window)
	if 0 > littleLaw.pause {
		littleLaw.pause = 0
	}
	littleLaw.recalculations++

	logger.Tracef("per-thread pause changed from %9.6f to %9.6f (samples %d mean_rsptime %f elapsed %f)",
		oldPause, littleLaw.pause, window.Samples, window.MeanResponse, window.Elapsed)
}

// Pause returns the current pause
func (littleLaw *LittleLaw) Pause() time.Duration {
	return secondsToDuration(littleLaw.pause)
}

// Recalculations returns the number of sampling windows closed so far
func (littleLaw *LittleLaw) Recalculations() int {
	return littleLaw.recalculations
}

// ThrottlingFactor returns the factor derived from the participant count
func (littleLaw *LittleLaw) ThrottlingFactor() float64 {
	return littleLaw.throttlingFactor
}
