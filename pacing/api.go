// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package pacing decides how long a workload thread sleeps between batches of
// operations.
//
// The adaptive LittleLaw controller treats all participating threads as one
// queueing center and applies U = XS to recent response times to find a pause
// that keeps throughput high without piling up requests.
package pacing

import (
	"math"
	"time"
)

const (
	// DefaultRingSize is the number of recent response times averaged
	DefaultRingSize = 100
	// DefaultHistoryDuration bounds how long a sampling window stays open
	DefaultHistoryDuration = time.Second
)

// Controller is fed every completed operation and supplies the current pause
type Controller interface {
	Observe(end time.Time, rsp time.Duration)
	Pause() time.Duration
}

// Window summarizes one closed sampling window; times are in seconds
type Window struct {
	MeanResponse     float64
	Samples          int
	Elapsed          float64
	Participants     int
	ThrottlingFactor float64
}

// Strategy turns the previous pause and a closed Window into the next pause, in seconds
type Strategy interface {
	NextPause(oldPause float64, window *Window) (newPause float64)
}

// SmoothedStrategy estimates utilization from the window and moves two
// thirds of the way from the old pause to the pause that utilization implies.
type SmoothedStrategy struct{}

func (SmoothedStrategy) NextPause(oldPause float64, window *Window) (newPause float64) {
	estThroughput := float64(window.Samples) * float64(window.Participants) / window.Elapsed
	meanUtilization := window.MeanResponse * estThroughput
	targetPause := meanUtilization * window.MeanResponse * window.ThrottlingFactor
	newPause = (oldPause + 2*targetPause) / 3.0
	return
}

// ThrottlingFactor scales response time into pause for participants threads in total
func ThrottlingFactor(participants int) float64 {
	return 0.1 * math.Log2(float64(participants+1))
}

// Static is a Controller that always pauses the same amount
type Static struct {
	pause time.Duration
}

func NewStatic(pause time.Duration) (static *Static) {
	static = &Static{pause: pause}
	return
}

func (static *Static) Observe(end time.Time, rsp time.Duration) {}

func (static *Static) Pause() time.Duration {
	return static.pause
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
