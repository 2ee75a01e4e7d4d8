// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Program smfworkout runs one phase of a small-file workload with several
// threads on the local host, starting them together through a starting gate
// and reporting what each one achieved.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rodaine/table"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/bucketstats"
	"github.com/NVIDIA/smallfile/conf"
	"github.com/NVIDIA/smallfile/logger"
	"github.com/NVIDIA/smallfile/syncfile"
	"github.com/NVIDIA/smallfile/utils"
	"github.com/NVIDIA/smallfile/workload"
)

const (
	workloadSectionName = "SmallfileWorkload"
	driverSectionName   = "Driver"

	defaultReadyTimeout = 60 * time.Second
	readyPollInterval   = 100 * time.Millisecond

	startingGateFileName = "starting_gate.tmp"

	// below this share of files processed the throughput numbers say little
	minPctFilesDone = 70.0

	statsPkgName = "smfworkout"
)

func usage(file *os.File) {
	fmt.Fprintf(file, "Usage:\n")
	fmt.Fprintf(file, "    %v conf-file [section.option=value]*\n", os.Args[0])
	fmt.Fprintf(file, "  where:\n")
	fmt.Fprintf(file, "    conf-file               input to conf.MakeConfMapFromFile()\n")
	fmt.Fprintf(file, "    [section.option=value]* optional input to conf.UpdateFromStrings()\n")
	fmt.Fprintf(file, "\n")
	fmt.Fprintf(file, "Note: the workload is described in the [%s] section,\n", workloadSectionName)
	fmt.Fprintf(file, "      [%s] ReadyTimeout bounds the wait for all threads to reach the starting gate\n", driverSectionName)
}

func main() {
	var (
		confMap conf.ConfMap
		err     error
	)

	if 2 > len(os.Args) {
		usage(os.Stderr)
		os.Exit(1)
	}

	confMap, err = conf.MakeConfMapFromFile(os.Args[1])
	if nil != err {
		fmt.Fprintf(os.Stderr, "conf.MakeConfMapFromFile(\"%v\") failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	if 2 < len(os.Args) {
		err = confMap.UpdateFromStrings(os.Args[2:])
		if nil != err {
			fmt.Fprintf(os.Stderr, "confMap.UpdateFromStrings(%#v) failed: %v\n", os.Args[2:], err)
			os.Exit(1)
		}
	}

	err = logger.Up(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "logger.Up() failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = runDriver(ctx, confMap, os.Stdout)

	stop()
	_ = logger.Down()

	if nil != err {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// runDriver runs every thread of the configured phase and writes the report to out
//
// The returned error is the first failure of any thread, or a note that too
// few files were processed to trust the results.
func runDriver(ctx context.Context, confMap conf.ConfMap, out io.Writer) (err error) {
	var (
		base         *workload.Config
		readyTimeout = defaultReadyTimeout
		tids         []string
		workloads    []*workload.Workload
	)

	base, err = workload.ConfigFromConfMap(confMap, workloadSectionName)
	if nil != err {
		return
	}

	if confMap.Has(driverSectionName, "ReadyTimeout") {
		readyTimeout, err = confMap.FetchOptionValueDuration(driverSectionName, "ReadyTimeout")
		if nil != err {
			err = blunder.NewConfigError("%s.ReadyTimeout: %v", driverSectionName, err)
			return
		}
	}

	if "" == base.StartingGate {
		base.StartingGate = filepath.Join(base.NetworkDir, startingGateFileName)
	}

	for _, dir := range append([]string{base.TmpDir, base.NetworkDir}, base.TopDirs...) {
		err = utils.EnsureDirExists(dir)
		if nil != err {
			return
		}
	}

	for i := 0; i < base.Threads; i++ {
		tids = append(tids, fmt.Sprintf("%02d", i))
	}

	protocol := syncfile.NewProtocol(base.TmpDir, base.NetworkDir, base.StartingGate)
	err = protocol.ClearRun(tids)
	if nil != err {
		return
	}

	registry := logger.NewRegistry(base.TmpDir, base.LogToStderr)
	defer func() {
		closeErr := registry.Close()
		if nil != closeErr {
			logger.WarnfWithError(closeErr, "closing thread logs")
		}
	}()

	for _, tid := range tids {
		var w *workload.Workload
		w, err = workload.New(base.Fork(tid), registry)
		if nil != err {
			return
		}
		workloads = append(workloads, w)
	}

	logger.Infof("starting %d threads of %v on host %s", len(workloads), base.Op, base.Host)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, w := range workloads {
		w := w
		group.Go(func() error { return w.Run(groupCtx) })
	}

	openGate(groupCtx, protocol, tids, readyTimeout)

	err = group.Wait()

	report(out, base, workloads)

	if nil != err {
		return
	}

	pctFilesDone := percentFilesDone(base, workloads)
	if minPctFilesDone > pctFilesDone {
		logger.Warnf("only %.1f%% of files processed, below the %.0f%% needed for meaningful results", pctFilesDone, minPctFilesDone)
		err = fmt.Errorf("not enough files processed (%.1f%%) for results to be meaningful", pctFilesDone)
	}

	return
}

// openGate touches the starting gate once every thread is ready, or the abort
// file if they are not all ready within readyTimeout
func openGate(ctx context.Context, protocol *syncfile.Protocol, tids []string, readyTimeout time.Duration) {
	var (
		deadline = time.Now().Add(readyTimeout)
		err      error
		ready    int
	)

	for {
		ready = 0
		for _, tid := range tids {
			if protocol.ThreadReady(tid).Exists() {
				ready++
			}
		}
		if len(tids) == ready {
			break
		}
		if (nil != ctx.Err()) || time.Now().After(deadline) {
			logger.Errorf("only %d of %d threads reached the starting gate, aborting", ready, len(tids))
			err = protocol.Abort().Touch()
			if nil != err {
				logger.ErrorfWithError(err, "touching abort file %s", protocol.Abort().Path)
			}
			return
		}
		time.Sleep(readyPollInterval)
	}

	err = protocol.StartingGate().Touch()
	if nil != err {
		logger.ErrorfWithError(err, "touching starting gate %s", protocol.Gate)
		err = protocol.Abort().Touch()
		if nil != err {
			logger.ErrorfWithError(err, "touching abort file %s", protocol.Abort().Path)
		}
		return
	}

	logger.Infof("all %d threads ready, starting gate %s opened", len(tids), protocol.Gate)
}

func percentFilesDone(base *workload.Config, workloads []*workload.Workload) float64 {
	var (
		filesDone int64
	)

	for _, w := range workloads {
		filesDone += w.State().FileNumFinal
	}

	return 100.0 * float64(filesDone) / float64(base.Iterations*int64(len(workloads)))
}

// report prints a row per thread, the totals and each thread's latency distributions
func report(out io.Writer, base *workload.Config, workloads []*workload.Workload) {
	var (
		bytesRead    uint64
		bytesWritten uint64
		filesDone    int64
		maxElapsed   time.Duration
		requests     int64
	)

	tbl := table.New("thread", "status", "files", "requests", "elapsed", "files/sec", "written", "read")
	tbl.WithWriter(out)

	for _, w := range workloads {
		state := w.State()
		stats := w.Stats()

		status := "ok"
		if 0 != state.Status {
			status = fmt.Sprintf("%v", syscall.Errno(state.Status))
		}

		tbl.AddRow(w.Config().Tid, status, state.FileNumFinal, state.RqFinal,
			state.Elapsed.Round(time.Millisecond), fmt.Sprintf("%.2f", state.FilesPerSec()),
			humanize.IBytes(stats.BytesWritten.TotalGet()), humanize.IBytes(stats.BytesRead.TotalGet()))

		filesDone += state.FileNumFinal
		requests += state.RqFinal
		bytesWritten += stats.BytesWritten.TotalGet()
		bytesRead += stats.BytesRead.TotalGet()
		if state.Elapsed > maxElapsed {
			maxElapsed = state.Elapsed
		}
	}

	tbl.Print()

	fmt.Fprintf(out, "\n%v: %s files, %s requests in %v\n", base.Op,
		humanize.Comma(filesDone), humanize.Comma(requests), maxElapsed.Round(time.Millisecond))
	if 0 < maxElapsed {
		seconds := maxElapsed.Seconds()
		fmt.Fprintf(out, "%.2f files/sec, %.2f IOPS, %s/sec written, %s/sec read\n",
			float64(filesDone)/seconds, float64(requests)/seconds,
			humanize.IBytes(uint64(float64(bytesWritten)/seconds)), humanize.IBytes(uint64(float64(bytesRead)/seconds)))
	}
	fmt.Fprintf(out, "%.1f%% of requested files processed\n\n", percentFilesDone(base, workloads))

	for _, w := range workloads {
		bucketstats.Register(statsPkgName, w.Config().Tid, w.Stats())
	}
	fmt.Fprint(out, bucketstats.SprintStats(bucketstats.StatFormatParsable1, statsPkgName, "*"))
	for _, w := range workloads {
		bucketstats.UnRegister(statsPkgName, w.Config().Tid)
	}
}
