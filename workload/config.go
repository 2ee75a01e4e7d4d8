// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/smallfile/blunder"
	"github.com/NVIDIA/smallfile/bufgen"
	"github.com/NVIDIA/smallfile/conf"
	"github.com/NVIDIA/smallfile/syncfile"
)

// SizeDistribution selects how file sizes vary around TotalSizeKB
type SizeDistribution int

const (
	SizeFixed SizeDistribution = iota
	SizeExponential
)

func (distribution SizeDistribution) String() string {
	if SizeExponential == distribution {
		return "exponential"
	}
	return "fixed"
}

const (
	srcDirName      = "file_srcdir"
	destDirName     = "file_dstdir"
	networkDirName  = "network_shared"
	threadDirPrefix = "thrd_"

	// FirstTid is the thread that makes and removes directories when they are shared
	FirstTid = "00"
)

// Config holds everything one workload thread needs to know about its run
//
// A Config is filled in once, then Fork()ed per thread. It is not modified
// while the thread runs.
type Config struct {
	Op                      Op
	Iterations              int64
	TopDirs                 []string
	SrcDirs                 []string
	DestDirs                []string
	NetworkDir              string
	TmpDir                  string
	StartingGate            string
	RecordSizeKB            int64
	TotalSizeKB             int64
	SizeDistribution        SizeDistribution
	FilesPerDir             int64
	DirsPerDir              int64
	XattrSize               int64
	XattrCount              int64
	FilesBetweenChecks      int64
	Prefix                  string
	Suffix                  string
	HashIntoDirs            bool
	Fsync                   bool
	RecordCtimeSize         bool
	Stonewall               bool
	FinishAllRequests       bool
	ResponseTimes           bool
	Incompressible          bool
	VerifyRead              bool
	AutoPause               bool
	Pause                   time.Duration
	PauseHistoryDuration    time.Duration
	CleanupDelayUsecPerFile int64
	Host                    string
	Tid                     string
	TotalHosts              int
	Threads                 int
	SharedDir               bool
	DirsOnDemand            bool
	Verbose                 bool
	LogToStderr             bool
	GateSkew                time.Duration
	GateBackoff             syncfile.Backoff
	AwaitPollInterval       time.Duration
	StonewallTolerate       []syscall.Errno
}

// DefaultConfig returns a cleanup of 200 files under $TMPDIR/smf
func DefaultConfig() (config *Config) {
	var (
		host string
		err  error
	)

	host, err = os.Hostname()
	if nil != err {
		host = "localhost"
	}

	config = &Config{
		Op:                   OpCleanup,
		Iterations:           200,
		TmpDir:               defaultTmpDir(),
		TotalSizeKB:          64,
		SizeDistribution:     SizeFixed,
		FilesPerDir:          100,
		DirsPerDir:           10,
		FilesBetweenChecks:   20,
		Stonewall:            true,
		VerifyRead:           true,
		PauseHistoryDuration: time.Second,
		Host:                 host,
		TotalHosts:           1,
		Threads:              1,
		GateSkew:             syncfile.DefaultSkew,
		GateBackoff:          syncfile.DefaultBackoff,
		AwaitPollInterval:    time.Second,
		StonewallTolerate:    []syscall.Errno{syscall.EINVAL},
	}

	config.SetTopDirs([]string{filepath.Join(config.TmpDir, "smf")}, "")

	return
}

func defaultTmpDir() string {
	for _, envName := range []string{"TMPDIR", "TEMP"} {
		if dir := os.Getenv(envName); "" != dir {
			return dir
		}
	}
	return "/var/tmp"
}

// SetTopDirs points the source, destination and network directories at topDirs
//
// An empty networkDir selects network_shared under the first top directory.
func (config *Config) SetTopDirs(topDirs []string, networkDir string) {
	config.TopDirs = append([]string(nil), topDirs...)
	config.SrcDirs = make([]string, len(topDirs))
	config.DestDirs = make([]string, len(topDirs))

	for i, topDir := range topDirs {
		config.SrcDirs[i] = filepath.Join(topDir, srcDirName)
		config.DestDirs[i] = filepath.Join(topDir, destDirName)
	}

	if "" != networkDir {
		config.NetworkDir = networkDir
	} else if 0 < len(topDirs) {
		config.NetworkDir = filepath.Join(topDirs[0], networkDirName)
	}
}

// Fork returns a deep copy of config for thread tid
//
// Unless SharedDir is set each thread gets its own subdirectory of every
// source and destination tree.
func (config *Config) Fork(tid string) (forked *Config) {
	copied := *config
	forked = &copied

	forked.Tid = tid
	forked.TopDirs = append([]string(nil), config.TopDirs...)
	forked.SrcDirs = append([]string(nil), config.SrcDirs...)
	forked.DestDirs = append([]string(nil), config.DestDirs...)
	forked.StonewallTolerate = append([]syscall.Errno(nil), config.StonewallTolerate...)

	if !config.SharedDir {
		for i := range forked.SrcDirs {
			forked.SrcDirs[i] = filepath.Join(forked.SrcDirs[i], threadDirPrefix+tid)
		}
		for i := range forked.DestDirs {
			forked.DestDirs[i] = filepath.Join(forked.DestDirs[i], threadDirPrefix+tid)
		}
	}

	return
}

// TotalThreads is the number of threads across all hosts taking part in the run
func (config *Config) TotalThreads() int {
	return config.Threads * config.TotalHosts
}

// Validate returns a config error describing the first bad parameter found
func (config *Config) Validate() (err error) {
	switch {
	case 0 >= config.Iterations:
		err = blunder.NewConfigError("iterations must be positive, not %d", config.Iterations)
	case 0 == len(config.TopDirs):
		err = blunder.NewConfigError("at least one top directory is required")
	case (len(config.SrcDirs) != len(config.TopDirs)) || (len(config.DestDirs) != len(config.TopDirs)):
		err = blunder.NewInternalError("source and destination trees do not match top directories %v", config.TopDirs)
	case "" == config.NetworkDir:
		err = blunder.NewConfigError("network directory is required")
	case 0 >= config.FilesPerDir:
		err = blunder.NewConfigError("files per directory must be positive, not %d", config.FilesPerDir)
	case 1 >= config.DirsPerDir:
		err = blunder.NewConfigError("directories per directory must be at least 2, not %d", config.DirsPerDir)
	case 0 > config.TotalSizeKB:
		err = blunder.NewConfigError("file size must not be negative, not %d KB", config.TotalSizeKB)
	case 0 > config.RecordSizeKB:
		err = blunder.NewConfigError("record size must not be negative, not %d KB", config.RecordSizeKB)
	case (SizeExponential == config.SizeDistribution) && (0 == config.TotalSizeKB):
		err = blunder.NewConfigError("exponential file size distribution needs a non-zero mean file size")
	case (0 > config.XattrSize) || (0 > config.XattrCount):
		err = blunder.NewConfigError("xattr size and count must not be negative")
	case bufgen.BiggestBufSize < config.XattrSize+config.XattrCount:
		err = blunder.NewConfigError("xattr size plus count must not exceed %d", bufgen.BiggestBufSize)
	case 0 >= config.FilesBetweenChecks:
		err = blunder.NewConfigError("files between checks must be positive, not %d", config.FilesBetweenChecks)
	case (0 >= config.Threads) || (0 >= config.TotalHosts):
		err = blunder.NewConfigError("threads and hosts must be positive")
	case config.HashIntoDirs && ((OpReaddir == config.Op) || (OpLsL == config.Op)):
		err = blunder.NewConfigError("cannot do %v test with hashed directories", config.Op)
	case (0 > config.Pause) || (0 > config.PauseHistoryDuration) || (0 > config.AwaitPollInterval):
		err = blunder.NewConfigError("pause and poll intervals must not be negative")
	}
	return
}

func (config *Config) String() string {
	return fmt.Sprintf("op=%v iterations=%d top_dirs=%v src_dirs=%v dest_dirs=%v network_dir=%s shared=%v "+
		"record_sz_kb=%d total_sz_kb=%d filesize_distr=%v files_per_dir=%d dirs_per_dir=%d dirs_on_demand=%v "+
		"xattr_size=%d xattr_count=%d starting_gate=%q prefix=%q suffix=%q hash_to_dir=%v fsync=%v "+
		"stonewall=%v cleanup_delay_usec_per_file=%d files_between_checks=%d pause=%v auto_pause=%v "+
		"verify_read=%v incompressible=%v finish_all_rq=%v rsp_times=%v tid=%s host=%s total_hosts=%d threads=%d",
		config.Op, config.Iterations, config.TopDirs, config.SrcDirs, config.DestDirs, config.NetworkDir, config.SharedDir,
		config.RecordSizeKB, config.TotalSizeKB, config.SizeDistribution, config.FilesPerDir, config.DirsPerDir, config.DirsOnDemand,
		config.XattrSize, config.XattrCount, config.StartingGate, config.Prefix, config.Suffix, config.HashIntoDirs, config.Fsync,
		config.Stonewall, config.CleanupDelayUsecPerFile, config.FilesBetweenChecks, config.Pause, config.AutoPause,
		config.VerifyRead, config.Incompressible, config.FinishAllRequests, config.ResponseTimes, config.Tid, config.Host,
		config.TotalHosts, config.Threads)
}

// ConfigFromConfMap overlays the options of sectionName onto DefaultConfig()
//
// Options absent from confMap keep their default values.
func ConfigFromConfMap(confMap conf.ConfMap, sectionName string) (config *Config, err error) {
	var (
		networkDir string
		opName     string
		topDirs    []string
	)

	config = DefaultConfig()

	fetch := optionFetcher{confMap: confMap, sectionName: sectionName}

	if confMap.Has(sectionName, "Operation") {
		opName, err = confMap.FetchOptionValueString(sectionName, "Operation")
		if nil != err {
			return
		}
		config.Op, err = ParseOp(opName)
		if nil != err {
			err = blunder.NewConfigError("%s.Operation: %v", sectionName, err)
			return
		}
	}

	fetch.string("TmpDir", &config.TmpDir)

	topDirs = config.TopDirs
	fetch.stringSlice("TopDirs", &topDirs)
	fetch.string("NetworkDir", &networkDir)
	config.SetTopDirs(topDirs, networkDir)

	fetch.string("StartingGate", &config.StartingGate)
	fetch.int64("Iterations", &config.Iterations)
	fetch.int64("RecordSizeKB", &config.RecordSizeKB)
	fetch.int64("TotalSizeKB", &config.TotalSizeKB)
	fetch.int64("FilesPerDir", &config.FilesPerDir)
	fetch.int64("DirsPerDir", &config.DirsPerDir)
	fetch.int64("XattrSize", &config.XattrSize)
	fetch.int64("XattrCount", &config.XattrCount)
	fetch.int64("FilesBetweenChecks", &config.FilesBetweenChecks)
	fetch.int64("CleanupDelayUsecPerFile", &config.CleanupDelayUsecPerFile)
	fetch.string("Prefix", &config.Prefix)
	fetch.string("Suffix", &config.Suffix)
	fetch.string("Host", &config.Host)
	fetch.bool("HashIntoDirs", &config.HashIntoDirs)
	fetch.bool("Fsync", &config.Fsync)
	fetch.bool("RecordCtimeSize", &config.RecordCtimeSize)
	fetch.bool("Stonewall", &config.Stonewall)
	fetch.bool("FinishAllRequests", &config.FinishAllRequests)
	fetch.bool("ResponseTimes", &config.ResponseTimes)
	fetch.bool("Incompressible", &config.Incompressible)
	fetch.bool("VerifyRead", &config.VerifyRead)
	fetch.bool("AutoPause", &config.AutoPause)
	fetch.bool("SharedDir", &config.SharedDir)
	fetch.bool("DirsOnDemand", &config.DirsOnDemand)
	fetch.bool("Verbose", &config.Verbose)
	fetch.bool("LogToStderr", &config.LogToStderr)
	fetch.int("TotalHosts", &config.TotalHosts)
	fetch.int("Threads", &config.Threads)
	fetch.duration("PauseHistoryDuration", &config.PauseHistoryDuration)
	fetch.duration("GateSkew", &config.GateSkew)
	fetch.duration("GatePollInitial", &config.GateBackoff.Initial)
	fetch.duration("GatePollMax", &config.GateBackoff.Max)
	fetch.float64("GatePollMultiplier", &config.GateBackoff.Multiplier)
	fetch.duration("AwaitPollInterval", &config.AwaitPollInterval)

	if confMap.Has(sectionName, "PauseMicroseconds") && (nil == fetch.err) {
		var pauseMicroseconds int64
		fetch.int64("PauseMicroseconds", &pauseMicroseconds)
		config.Pause = time.Duration(pauseMicroseconds) * time.Microsecond
	}

	if confMap.Has(sectionName, "FileSizeDistribution") && (nil == fetch.err) {
		var distribution string
		fetch.string("FileSizeDistribution", &distribution)
		switch strings.ToLower(distribution) {
		case "fixed":
			config.SizeDistribution = SizeFixed
		case "exponential":
			config.SizeDistribution = SizeExponential
		default:
			fetch.err = blunder.NewConfigError("%s.FileSizeDistribution must be fixed or exponential, not %q", sectionName, distribution)
		}
	}

	if confMap.Has(sectionName, "StonewallTolerateErrnos") && (nil == fetch.err) {
		var errnoNames []string
		fetch.stringSlice("StonewallTolerateErrnos", &errnoNames)
		config.StonewallTolerate, err = parseErrnos(errnoNames)
		if nil != err {
			fetch.err = blunder.NewConfigError("%s.StonewallTolerateErrnos: %v", sectionName, err)
		}
	}

	err = fetch.err
	if nil != err {
		return
	}

	err = config.Validate()

	return
}

// maxErrno bounds the errno numbers searched for names
const maxErrno = 255

// errnosByName maps unix.ErrnoName() back to the errno, e.g. "EINVAL" to syscall.EINVAL
var errnosByName = func() (byName map[string]syscall.Errno) {
	byName = make(map[string]syscall.Errno)
	for errno := syscall.Errno(1); errno <= maxErrno; errno++ {
		if name := unix.ErrnoName(errno); "" != name {
			byName[name] = errno
		}
	}
	return
}()

// parseErrnos accepts both names like EINVAL and numbers
func parseErrnos(names []string) (errnos []syscall.Errno, err error) {
	errnos = make([]syscall.Errno, 0, len(names))

	for _, name := range names {
		if number, parseErr := strconv.ParseUint(name, 10, 32); nil == parseErr {
			errnos = append(errnos, syscall.Errno(number))
			continue
		}
		errno, ok := errnosByName[strings.ToUpper(name)]
		if !ok {
			err = fmt.Errorf("unknown errno %q", name)
			return
		}
		errnos = append(errnos, errno)
	}

	return
}

// optionFetcher fetches optional options, remembering the first failure
type optionFetcher struct {
	confMap     conf.ConfMap
	sectionName string
	err         error
}

func (fetch *optionFetcher) skip(optionName string) bool {
	return (nil != fetch.err) || !fetch.confMap.Has(fetch.sectionName, optionName)
}

func (fetch *optionFetcher) fail(optionName string, err error) {
	fetch.err = blunder.NewConfigError("%s.%s: %v", fetch.sectionName, optionName, err)
}

func (fetch *optionFetcher) string(optionName string, value *string) {
	if fetch.skip(optionName) {
		return
	}
	fetched, err := fetch.confMap.FetchOptionValueString(fetch.sectionName, optionName)
	if nil != err {
		fetch.fail(optionName, err)
		return
	}
	*value = fetched
}

func (fetch *optionFetcher) stringSlice(optionName string, value *[]string) {
	if fetch.skip(optionName) {
		return
	}
	fetched, err := fetch.confMap.FetchOptionValueStringSlice(fetch.sectionName, optionName)
	if nil != err {
		fetch.fail(optionName, err)
		return
	}
	*value = fetched
}

func (fetch *optionFetcher) bool(optionName string, value *bool) {
	if fetch.skip(optionName) {
		return
	}
	fetched, err := fetch.confMap.FetchOptionValueBool(fetch.sectionName, optionName)
	if nil != err {
		fetch.fail(optionName, err)
		return
	}
	*value = fetched
}

func (fetch *optionFetcher) int64(optionName string, value *int64) {
	if fetch.skip(optionName) {
		return
	}
	fetched, err := fetch.confMap.FetchOptionValueInt64(fetch.sectionName, optionName)
	if nil != err {
		fetch.fail(optionName, err)
		return
	}
	*value = fetched
}

func (fetch *optionFetcher) int(optionName string, value *int) {
	if fetch.skip(optionName) {
		return
	}
	fetched, err := fetch.confMap.FetchOptionValueUint32(fetch.sectionName, optionName)
	if nil != err {
		fetch.fail(optionName, err)
		return
	}
	*value = int(fetched)
}

func (fetch *optionFetcher) float64(optionName string, value *float64) {
	if fetch.skip(optionName) {
		return
	}
	fetched, err := fetch.confMap.FetchOptionValueFloat64(fetch.sectionName, optionName)
	if nil != err {
		fetch.fail(optionName, err)
		return
	}
	*value = fetched
}

func (fetch *optionFetcher) duration(optionName string, value *time.Duration) {
	if fetch.skip(optionName) {
		return
	}
	fetched, err := fetch.confMap.FetchOptionValueDuration(fetch.sectionName, optionName)
	if nil != err {
		fetch.fail(optionName, err)
		return
	}
	*value = fetched
}
