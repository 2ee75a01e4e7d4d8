// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/NVIDIA/smallfile/utils"
)

const (
	lsLReaddirOpName = "ls-l-readdir"
	lsLStatOpName    = "ls-l-stat"
	swiftPutOpName   = "swift-put"
)

type rspTime struct {
	opName string
	start  time.Time
	rsp    time.Duration
}

// ResponseTimeFileName returns the name of the CSV file the last Run() saves
// response times in, under the network directory
func (workload *Workload) ResponseTimeFileName() string {
	startTime := strconv.FormatFloat(float64(workload.state.StartTime.UnixNano())/float64(time.Second), 'f', 6, 64)
	return fmt.Sprintf("rsptimes_%s_%s_%v_%s.csv", workload.config.Tid, workload.config.Host, workload.config.Op, startTime)
}

// saveRspTimes writes one "op, seconds since start, response seconds" line per timed operation
func (workload *Workload) saveRspTimes() (err error) {
	var (
		buf   bytes.Buffer
		state = workload.state
	)

	for _, sample := range state.rspTimes {
		fmt.Fprintf(&buf, "%8s, %9.6f, %9.6f\n", sample.opName, sample.start.Sub(state.StartTime).Seconds(), sample.rsp.Seconds())
	}

	err = utils.WriteSyncFile(filepath.Join(workload.config.NetworkDir, workload.ResponseTimeFileName()), buf.Bytes())

	return
}
