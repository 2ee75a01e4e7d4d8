// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/logger"
	"github.com/NVIDIA/smallfile/pacing"
	"github.com/NVIDIA/smallfile/platform"
	"github.com/NVIDIA/smallfile/syncfile"
)

var testBackoff = syncfile.Backoff{
	Initial:    time.Millisecond,
	Multiplier: 1.5,
	Max:        10 * time.Millisecond,
}

// testBaseConfig describes a run of 50 files of 4KB in 1KB records, 5 files
// per directory and 2 subdirectories per directory.
func testBaseConfig(t *testing.T) (config *Config) {
	top := t.TempDir()

	config = DefaultConfig()
	config.TmpDir = filepath.Join(top, "tmp")
	config.SetTopDirs([]string{filepath.Join(top, "smf")}, "")
	config.Iterations = 50
	config.FilesPerDir = 5
	config.DirsPerDir = 2
	config.TotalSizeKB = 4
	config.RecordSizeKB = 1
	config.Host = "testhost"
	config.GateSkew = 0
	config.GateBackoff = testBackoff
	config.AwaitPollInterval = 10 * time.Millisecond
	config.LogToStderr = testing.Verbose()

	return
}

func testConfig(t *testing.T) (config *Config) {
	config = testBaseConfig(t).Fork(FirstTid)
	return
}

func mkdirAll(t *testing.T, dir string) {
	require.NoError(t, os.MkdirAll(dir, 0777))
}

type phaseRunner struct {
	t        *testing.T
	config   *Config
	registry *logger.Registry
}

func newPhaseRunner(t *testing.T, config *Config) (runner *phaseRunner) {
	runner = &phaseRunner{
		t:        t,
		config:   config,
		registry: logger.NewRegistry(config.TmpDir, config.LogToStderr),
	}
	t.Cleanup(func() { _ = runner.registry.Close() })
	return
}

// run clears the previous phase's signal files and runs op over the same tree
func (runner *phaseRunner) run(op Op) (workload *Workload, err error) {
	phaseConfig := *runner.config
	phaseConfig.Op = op

	require.NoError(runner.t, syncfile.NewProtocol(phaseConfig.TmpDir, phaseConfig.NetworkDir, "").ClearRun(nil))

	workload, err = New(&phaseConfig, runner.registry)
	require.NoError(runner.t, err)

	err = workload.Run(context.Background())

	return
}

// mustRun runs op and requires it to process every file successfully
func (runner *phaseRunner) mustRun(op Op) (workload *Workload) {
	workload, err := runner.run(op)
	require.NoError(runner.t, err, "%v", op)
	require.Equal(runner.t, 0, workload.State().Status, "%v", op)
	require.Equal(runner.t, runner.config.Iterations, workload.State().FileNumFinal, "%v", op)
	return
}

// countEntries returns the regular files and directories below dir, not counting dir
func countEntries(t *testing.T, dir string) (files int, dirs int) {
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if nil != err {
			return err
		}
		if path == dir {
			return nil
		}
		if info.IsDir() {
			dirs++
		} else {
			files++
		}
		return nil
	})
	require.NoError(t, err)
	return
}

func TestFilePlacement(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Prefix = "p"
	config.Suffix = "s"

	workload, err := New(config, nil)
	require.NoError(t, err)

	assert.Equal(filepath.Join(config.SrcDirs[0], "d_000", "p_testhost_00_1_s"), workload.filePath(config.SrcDirs, 1))
	assert.Equal(filepath.Join(config.SrcDirs[0], "d_001", "p_testhost_00_7_s"), workload.filePath(config.SrcDirs, 7))
	assert.Equal(filepath.Join(config.SrcDirs[0], "d_001", "d_000", "p_testhost_00_12_s"), workload.filePath(config.SrcDirs, 12))
	assert.Equal(filepath.Join(config.DestDirs[0], "d_000", "p_testhost_00_3_s"), workload.filePath(config.DestDirs, 3))

	// files stripe round robin over the top directories
	trees := []string{"/mnt/a", "/mnt/b"}
	assert.True(strings.HasPrefix(workload.filePath(trees, 1), "/mnt/b/"))
	assert.True(strings.HasPrefix(workload.filePath(trees, 2), "/mnt/a/"))

	config.HashIntoDirs = true
	config.DirsPerDir = 4
	config.Iterations = 500
	workload, err = New(config, nil)
	require.NoError(t, err)
	assert.Equal(filepath.Join(config.SrcDirs[0], "h_001", "h_000", "h_001", "p_testhost_00_499_s"), workload.filePath(config.SrcDirs, 499))
	assert.Equal(workload.filePath(config.SrcDirs, 499), workload.filePath(config.SrcDirs, 499))
}

func TestCreateReadVerify(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)
	assert.Equal(int64(50*4), created.State().RqFinal)
	assert.Equal(uint64(50*4*1024), created.Stats().BytesWritten.TotalGet())
	assert.Equal(uint64(50), created.Stats().OpUsec.CountGet())
	assert.Equal(uint64(50), created.Stats().FileBytes.CountGet())
	assert.Equal(uint64(4096), created.Stats().FileBytes.AverageGet())
	assert.True(0 < created.State().Elapsed)

	files, _ := countEntries(t, config.SrcDirs[0])
	assert.Equal(50, files)

	firstFile := created.filePath(config.SrcDirs, 1)
	info, err := os.Stat(firstFile)
	require.NoError(t, err)
	assert.Equal(int64(4096), info.Size())

	read := runner.mustRun(OpRead)
	assert.Equal(int64(50*4), read.State().RqFinal)
	assert.Equal(uint64(50*4*1024), read.Stats().BytesRead.TotalGet())

	// corrupt one byte of the first file
	file, err := os.OpenFile(firstFile, os.O_RDWR, 0)
	require.NoError(t, err)
	original := make([]byte, 1)
	_, err = file.ReadAt(original, 5)
	require.NoError(t, err)
	_, err = file.WriteAt([]byte{original[0] ^ 0xFF}, 5)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	corrupted, err := runner.run(OpRead)
	require.Error(t, err)
	assert.Equal(blunder.FailureDataIntegrity, blunder.FailureKindOf(err))
	assert.Equal(int(blunder.DataIntegrityError), corrupted.State().Status)
	assert.Equal(uint64(5), merry.Value(err, "offset"))
	assert.Equal(int64(1), merry.Value(err, "filenum"))
	assert.Contains(err.Error(), "offset 5")
	assert.Equal(int64(1), corrupted.State().FileNumFinal)

	// without verification the corruption goes unnoticed
	runner.config.VerifyRead = false
	runner.mustRun(OpRead)
}

func TestShortFile(t *testing.T) {
	config := testConfig(t)
	config.Iterations = 10
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)
	require.NoError(t, os.Truncate(created.filePath(config.SrcDirs, 3), 2048))

	read, err := runner.run(OpRead)
	require.Error(t, err)
	assert.Equal(t, blunder.FailureDataIntegrity, blunder.FailureKindOf(err))
	assert.Equal(t, int64(3), read.State().FileNum)
	assert.Equal(t, uint64(2048), merry.Value(err, "offset"))
}

func TestExponentialSizesReplay(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.SizeDistribution = SizeExponential
	config.RecordSizeKB = 0
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)

	sizes := make(map[int64]struct{})
	for fileNum := int64(1); fileNum <= config.Iterations; fileNum++ {
		info, err := os.Stat(created.filePath(config.SrcDirs, fileNum))
		require.NoError(t, err)
		assert.True(1024 <= info.Size())
		assert.True(8*4*1024 >= info.Size())
		sizes[info.Size()] = struct{}{}
	}
	assert.True(1 < len(sizes))

	// reading back regenerates the same sizes from the saved seed
	runner.mustRun(OpRead)

	// losing the seed breaks the replay
	require.NoError(t, os.Remove(created.Protocol().SeedFilePath("00")))
	_, err := runner.run(OpRead)
	assert.Error(err)
}

func TestWriteVariants(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Iterations = 20
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)
	firstFile := created.filePath(config.SrcDirs, 1)

	runner.mustRun(OpAppend)
	runner.mustRun(OpAppend)
	info, err := os.Stat(firstFile)
	require.NoError(t, err)
	assert.Equal(int64(3*4096), info.Size())

	runner.mustRun(OpOverwrite)
	info, err = os.Stat(firstFile)
	require.NoError(t, err)
	assert.Equal(int64(3*4096), info.Size())

	runner.mustRun(OpTruncateOverwrite)
	info, err = os.Stat(firstFile)
	require.NoError(t, err)
	assert.Equal(int64(4096), info.Size())

	runner.mustRun(OpRead)
}

func TestCreateExisting(t *testing.T) {
	config := testConfig(t)
	config.Iterations = 5
	runner := newPhaseRunner(t, config)

	runner.mustRun(OpCreate)

	created, err := runner.run(OpCreate)
	require.Error(t, err)
	assert.Equal(t, blunder.FailureOS, blunder.FailureKindOf(err))
	assert.Equal(t, int(blunder.FileExistsError), created.State().Status)
}

func TestCleanupTwice(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	runner := newPhaseRunner(t, config)

	runner.mustRun(OpCreate)
	runner.mustRun(OpCleanup)

	files, dirs := countEntries(t, config.SrcDirs[0])
	assert.Equal(0, files)
	assert.Equal(0, dirs)
	files, dirs = countEntries(t, config.DestDirs[0])
	assert.Equal(0, files)
	assert.Equal(0, dirs)

	runner.mustRun(OpCleanup)

	files, dirs = countEntries(t, config.SrcDirs[0])
	assert.Equal(0, files)
	assert.Equal(0, dirs)
}

func TestEndToEnd(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)
	files, _ := countEntries(t, config.SrcDirs[0])
	assert.Equal(50, files)
	for fileNum := int64(1); fileNum <= config.Iterations; fileNum++ {
		_, err := os.Stat(created.filePath(config.SrcDirs, fileNum))
		assert.NoError(err)
	}

	stat := runner.mustRun(OpStat)
	assert.Equal(uint64(50), stat.Stats().OpUsec.CountGet())

	runner.mustRun(OpCleanup)
	files, dirs := countEntries(t, config.SrcDirs[0])
	assert.Equal(0, files)
	assert.Equal(0, dirs)
}

func TestNamespaceOps(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Iterations = 20
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)
	firstFile := created.filePath(config.SrcDirs, 1)
	firstDest := created.filePath(config.DestDirs, 1)

	runner.mustRun(OpChmod)
	info, err := os.Stat(firstFile)
	require.NoError(t, err)
	assert.Equal(os.FileMode(0646), info.Mode().Perm())

	runner.mustRun(OpSymlink)
	target, err := os.Readlink(firstDest + ".s")
	require.NoError(t, err)
	assert.Equal(firstFile, target)

	runner.mustRun(OpMkdir)
	info, err = os.Stat(firstFile + ".d")
	require.NoError(t, err)
	assert.True(info.IsDir())

	runner.mustRun(OpRmdir)
	assert.NoFileExists(firstFile + ".d")

	runner.mustRun(OpRename)
	assert.NoFileExists(firstFile)
	assert.FileExists(firstDest)

	runner.mustRun(OpDeleteRenamed)
	assert.NoFileExists(firstDest)

	runner.mustRun(OpCleanup)
	files, dirs := countEntries(t, config.SrcDirs[0])
	assert.Equal(0, files)
	assert.Equal(0, dirs)
	files, dirs = countEntries(t, config.DestDirs[0])
	assert.Equal(0, files)
	assert.Equal(0, dirs)
}

func TestRenameInPlace(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Iterations = 10
	config.DestDirs = config.SrcDirs
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)
	firstFile := created.filePath(config.SrcDirs, 1)

	runner.mustRun(OpRename)
	assert.FileExists(firstFile + ".rnm")

	runner.mustRun(OpDeleteRenamed)
	assert.NoFileExists(firstFile + ".rnm")

	runner.mustRun(OpCreate)
	runner.mustRun(OpDelete)
	assert.NoFileExists(firstFile)
}

func TestReaddir(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)

	readdir := runner.mustRun(OpReaddir)
	// files 1..50 land in 11 directories
	assert.Equal(uint64(11), readdir.Stats().OpUsec.CountGet())

	lsL := runner.mustRun(OpLsL)
	assert.Equal(uint64(11), lsL.Stats().ReaddirUsec.CountGet())
	assert.Equal(uint64(50), lsL.Stats().StatUsec.CountGet())

	require.NoError(t, os.Remove(created.filePath(config.SrcDirs, 7)))

	missing, err := runner.run(OpReaddir)
	require.Error(t, err)
	assert.Equal(blunder.FailureDataIntegrity, blunder.FailureKindOf(err))
	assert.Equal(int64(7), missing.State().FileNum)

	config.HashIntoDirs = true
	config.Op = OpReaddir
	_, err = New(config, runner.registry)
	assert.Equal(blunder.FailureConfig, blunder.FailureKindOf(err))
}

func TestDirsOnDemand(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.DirsOnDemand = true
	runner := newPhaseRunner(t, config)

	// the thread owning the trees still makes them up front
	created := runner.mustRun(OpCreate)
	assert.Equal(int64(50), created.State().FileNum)
	assert.DirExists(filepath.Join(config.DestDirs[0], "d_001", "d_000"))

	runner.mustRun(OpRename)
	files, _ := countEntries(t, config.DestDirs[0])
	assert.Equal(50, files)

	runner.mustRun(OpCleanup)
	files, _ = countEntries(t, config.SrcDirs[0])
	assert.Equal(0, files)
	files, _ = countEntries(t, config.DestDirs[0])
	assert.Equal(0, files)
}

func TestDirsOnDemandSharedDir(t *testing.T) {
	assert := assert.New(t)

	base := testBaseConfig(t)
	base.SharedDir = true

	// a thread sharing the trees it does not own never makes them
	config := base.Fork("01")
	mkdirAll(t, config.TopDirs[0])
	runner := newPhaseRunner(t, config)

	failed, err := runner.run(OpCreate)
	require.Error(t, err)
	assert.True(blunder.IsErrno(err, syscall.ENOENT))
	assert.Equal(int(syscall.ENOENT), failed.State().Status)
	assert.Equal(int64(1), failed.State().FileNum)

	runner.config.DirsOnDemand = true
	created := runner.mustRun(OpCreate)
	assert.Equal(int64(50), created.State().FileNum)
	files, _ := countEntries(t, config.SrcDirs[0])
	assert.Equal(50, files)
	assert.FileExists(created.filePath(config.SrcDirs, 12))

	runner.mustRun(OpCleanup)
	files, _ = countEntries(t, config.SrcDirs[0])
	assert.Equal(0, files)

	if !platform.XattrSupported(config.TopDirs[0]) {
		t.Skip("user xattrs not supported by the test file system")
	}

	require.NoError(t, os.RemoveAll(config.SrcDirs[0]))
	put := runner.mustRun(OpSwiftPut)
	assert.Equal(int64(50), put.State().RqFinal)
	assert.FileExists(put.filePath(config.SrcDirs, 12))
	assert.NoFileExists(put.filePath(config.SrcDirs, 12) + swiftTmpSuffix)
}

func TestStopAtIterations(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Iterations = 30
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)
	assert.Equal(int64(30), created.State().FileNum)
	assert.Equal(int64(30), created.State().FileNumFinal)
	assert.True(created.State().TestEnded())
	assert.True(created.Protocol().Stonewall().Exists())

	files, _ := countEntries(t, config.SrcDirs[0])
	assert.Equal(30, files)
}

func TestStonewall(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Op = OpCreate
	config.Iterations = 100
	config.TotalSizeKB = 0
	config.FilesBetweenChecks = 20

	workload, err := New(config, nil)
	require.NoError(t, err)
	mkdirAll(t, config.NetworkDir)
	_, err = workload.Protocol().Stonewall().CreateIfAbsent()
	require.NoError(t, err)

	require.NoError(t, workload.Run(context.Background()))
	state := workload.State()
	assert.Equal(0, state.Status)
	assert.True(state.FileNumFinal < config.FilesBetweenChecks)
	assert.Equal(state.FileNumFinal, state.FileNum)

	// finishing all requests keeps going after the measurement window closes
	config.FinishAllRequests = true
	config.Op = OpMkdir
	workload, err = New(config, nil)
	require.NoError(t, err)

	require.NoError(t, workload.Run(context.Background()))
	state = workload.State()
	assert.Equal(0, state.Status)
	assert.True(state.FileNumFinal < config.FilesBetweenChecks)
	assert.Equal(config.Iterations, state.FileNum)
}

func TestAbort(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Op = OpCleanup
	config.Iterations = 100
	config.TotalSizeKB = 0
	config.FilesBetweenChecks = 20

	workload, err := New(config, nil)
	require.NoError(t, err)
	mkdirAll(t, config.NetworkDir)
	require.NoError(t, workload.Protocol().Abort().Touch())

	err = workload.Run(context.Background())
	require.Error(t, err)
	assert.Equal(blunder.FailureCancelled, blunder.FailureKindOf(err))
	assert.Equal(int(blunder.CancelledError), workload.State().Status)
	assert.True(workload.State().Aborted)
	assert.Equal(int64(0), workload.State().FileNum)

	// a cancelled context stops the thread before its first file
	require.NoError(t, workload.Protocol().Abort().Remove())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	workload, err = New(config, nil)
	require.NoError(t, err)
	err = workload.Run(ctx)
	assert.Equal(blunder.FailureCancelled, blunder.FailureKindOf(err))
	assert.Equal(int64(0), workload.State().FileNum)
}

func TestAbortShortRun(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Iterations = 10
	runner := newPhaseRunner(t, config)
	runner.mustRun(OpCreate)

	// fewer files than the stonewall interval still see the abort file
	statConfig := *config
	statConfig.Op = OpStat
	stat, err := New(&statConfig, runner.registry)
	require.NoError(t, err)
	require.True(t, statConfig.Iterations < filesBetweenChecks(&statConfig))
	require.NoError(t, syncfile.NewProtocol(config.TmpDir, config.NetworkDir, "").ClearRun(nil))
	require.NoError(t, stat.Protocol().Abort().Touch())

	err = stat.Run(context.Background())
	require.Error(t, err)
	assert.Equal(blunder.FailureCancelled, blunder.FailureKindOf(err))
	assert.Equal(int(blunder.CancelledError), stat.State().Status)
	assert.True(stat.State().Aborted)
	assert.Equal(int64(0), stat.State().FileNum)
	assert.Equal(uint64(0), stat.Stats().OpUsec.CountGet())
}

func TestAbortWhileMakingDirs(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Op = OpCreate

	workload, err := New(config, nil)
	require.NoError(t, err)
	mkdirAll(t, config.NetworkDir)
	require.NoError(t, workload.Protocol().Abort().Touch())

	err = workload.Run(context.Background())
	require.Error(t, err)
	assert.Equal(blunder.FailureCancelled, blunder.FailureKindOf(err))
	assert.True(workload.State().Aborted)
	assert.True(workload.State().StartTime.IsZero())
	assert.NoDirExists(filepath.Join(config.SrcDirs[0], "d_000"))
}

func TestRunResetsStats(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	runner := newPhaseRunner(t, config)
	runner.mustRun(OpCreate)

	readConfig := *config
	readConfig.Op = OpRead
	read, err := New(&readConfig, runner.registry)
	require.NoError(t, err)

	for run := 0; run < 2; run++ {
		require.NoError(t, syncfile.NewProtocol(config.TmpDir, config.NetworkDir, "").ClearRun(nil))
		require.NoError(t, read.Run(context.Background()), "run %d", run)
		assert.Equal(uint64(50), read.Stats().OpUsec.CountGet(), "run %d", run)
		assert.Equal(uint64(50), read.Stats().FileBytes.CountGet(), "run %d", run)
		assert.Equal(uint64(50*4*1024), read.Stats().BytesRead.TotalGet(), "run %d", run)
	}
}

func TestFilesBetweenChecks(t *testing.T) {
	assert := assert.New(t)

	config := DefaultConfig()
	config.FilesBetweenChecks = 20

	for _, tc := range []struct {
		totalSizeKB int64
		checks      int64
	}{
		{0, 20},
		{4, 99},
		{100, 99},
		{150, 98},
		{250, 97},
		{9000, 10},
		{20000, 10},
	} {
		config.TotalSizeKB = tc.totalSizeKB
		assert.Equal(tc.checks, filesBetweenChecks(config), "TotalSizeKB=%d", tc.totalSizeKB)
	}
}

func TestPacing(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.TotalSizeKB = 0
	config.Pause = 200 * time.Microsecond
	runner := newPhaseRunner(t, config)

	// 50 files sleep 10 times for 5 pauses each
	created := runner.mustRun(OpCreate)
	assert.True(10*5*200*time.Microsecond <= created.State().Elapsed)
	_, static := created.State().pacer.(*pacing.Static)
	assert.True(static)

	runner.config.Pause = 0
	runner.config.AutoPause = true
	stat := runner.mustRun(OpStat)
	littleLaw, ok := stat.State().pacer.(*pacing.LittleLaw)
	require.True(t, ok)
	assert.True(0 < littleLaw.Pause())
	assert.Equal(pacing.ThrottlingFactor(1), littleLaw.ThrottlingFactor())
}

func TestResponseTimes(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Iterations = 10
	config.ResponseTimes = true
	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)

	csvPath := filepath.Join(config.NetworkDir, created.ResponseTimeFileName())
	assert.True(strings.HasPrefix(filepath.Base(csvPath), "rsptimes_00_testhost_create_"))

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	defer file.Close()

	lines := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ",")
		require.Equal(t, 3, len(fields))
		assert.Equal("  create", fields[0])
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(10, lines)
}

func TestStartingGate(t *testing.T) {
	assert := assert.New(t)

	const threads = 4

	base := testBaseConfig(t)
	base.Iterations = 20
	base.Threads = threads
	base.Stonewall = false
	base.Op = OpCreate
	base.StartingGate = filepath.Join(base.NetworkDir, "starting_gate.tmp")
	base.GateSkew = 20 * time.Millisecond

	registry := logger.NewRegistry(base.TmpDir, base.LogToStderr)
	defer registry.Close()

	workloads := make([]*Workload, threads)
	for i := range workloads {
		workload, err := New(base.Fork(fmt.Sprintf("%02d", i)), registry)
		require.NoError(t, err)
		workloads[i] = workload
	}

	group, ctx := errgroup.WithContext(context.Background())
	for _, workload := range workloads {
		workload := workload
		group.Go(func() error { return workload.Run(ctx) })
	}

	protocol := workloads[0].Protocol()
	deadline := time.Now().Add(10 * time.Second)
	for {
		ready := 0
		for i := 0; i < threads; i++ {
			if protocol.ThreadReady(fmt.Sprintf("%02d", i)).Exists() {
				ready++
			}
		}
		if threads == ready {
			break
		}
		require.True(t, time.Now().Before(deadline), "threads never reached the starting gate")
		time.Sleep(time.Millisecond)
	}

	gateTime := time.Now()
	require.NoError(t, protocol.StartingGate().Touch())

	require.NoError(t, group.Wait())

	for _, workload := range workloads {
		assert.Equal(0, workload.State().Status)
		assert.Equal(int64(20), workload.State().FileNumFinal)
		assert.False(workload.State().StartTime.Before(gateTime))
		files, _ := countEntries(t, workload.Config().SrcDirs[0])
		assert.Equal(20, files)
	}
}

func TestGateAbort(t *testing.T) {
	config := testConfig(t)
	config.Op = OpCleanup
	config.StartingGate = filepath.Join(config.NetworkDir, "starting_gate.tmp")

	workload, err := New(config, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = workload.Run(context.Background())
	}()

	deadline := time.Now().Add(10 * time.Second)
	for !workload.Protocol().ThreadReady(FirstTid).Exists() {
		require.True(t, time.Now().Before(deadline), "thread never reached the starting gate")
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, workload.Protocol().Abort().Touch())
	wg.Wait()

	assert.Equal(t, blunder.FailureCancelled, blunder.FailureKindOf(err))
	assert.Equal(t, int64(0), workload.State().FileNum)
}

func TestXattrOps(t *testing.T) {
	assert := assert.New(t)

	config := testConfig(t)
	config.Iterations = 20
	config.XattrSize = 16
	config.XattrCount = 4
	config.RecordCtimeSize = true

	mkdirAll(t, config.TopDirs[0])
	if !platform.XattrSupported(config.TopDirs[0]) {
		t.Skip("user xattrs not supported by the test file system")
	}

	runner := newPhaseRunner(t, config)

	created := runner.mustRun(OpCreate)
	_, sizeKB, found, err := recallCtimeSize(created.filePath(config.SrcDirs, 1))
	require.NoError(t, err)
	assert.True(found)
	assert.Equal(int64(4), sizeKB)

	runner.mustRun(OpAwaitCreate)
	runner.mustRun(OpSetxattr)
	runner.mustRun(OpGetxattr)

	// a value that differs from the expected buffer slice is caught
	require.NoError(t, platform.Setxattr(created.filePath(config.SrcDirs, 2), xattrName(1), []byte("not the buffer"), 0))
	getxattr, err := runner.run(OpGetxattr)
	require.Error(t, err)
	assert.Equal(blunder.FailureDataIntegrity, blunder.FailureKindOf(err))
	assert.Equal(int64(2), getxattr.State().FileNum)

	runner.mustRun(OpCleanup)

	put := runner.mustRun(OpSwiftPut)
	assert.Equal(int64(20), put.State().RqFinal)
	firstFile := put.filePath(config.SrcDirs, 1)
	assert.FileExists(firstFile)
	assert.NoFileExists(firstFile + ".tmp")
	value, err := platform.Getxattr(firstFile, allXattrName(3))
	require.NoError(t, err)
	assert.Equal(16, len(value))

	runner.mustRun(OpSwiftGet)
	runner.mustRun(OpCleanup)
}

func TestAwaitCreateCancelled(t *testing.T) {
	config := testConfig(t)
	config.Iterations = 1

	mkdirAll(t, config.TopDirs[0])
	if !platform.XattrSupported(config.TopDirs[0]) {
		t.Skip("user xattrs not supported by the test file system")
	}

	config.Op = OpAwaitCreate
	workload, err := New(config, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = workload.Run(ctx)
	assert.Equal(t, blunder.FailureCancelled, blunder.FailureKindOf(err))
	assert.Equal(t, int64(1), workload.State().FileNum)
}

