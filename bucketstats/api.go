// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package bucketstats implements easy to use statistics collection and
// reporting, including bucketized statistics.  Statistics start at zero and
// grow as they are added to.
//
// The statistics provided include totaler (with the Totaler interface), average
// (with the Averager interface), and distributions (with the Bucketer
// interface).
//
// One or more statistics is placed in a structure and registered, with a
// name, via a call to Register().  The set of the statistics registered can be
// queried using the registered name or individually.
//
package bucketstats

import (
	"math/bits"
	"sync/atomic"
)

type StatStringFormat int

const (
	StatFormatParsable1 StatStringFormat = iota
)

// A Totaler can be incremented, or added to, and tracks the total value of all
// values added.
//
type Totaler interface {
	Increment()
	Add(value uint64)
	TotalGet() (total uint64)
	Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) (values string)
}

// An Averager is a Totaler with a average (mean) function added.
//
type Averager interface {
	Totaler
	CountGet() (count uint64)
	AverageGet() (avg uint64)
}

// Holds information for an individual statistics bucket, consisting of:
//
// Count the number of values added to the bucket
// NominalVal the nominal value of the bucket (2^(n-1))
// MeanVal the mean of the bucket's range, assuming a uniform distribution
// RangeLow the smallest value mapped to the bucket
// RangeHigh the largest value mapped to the bucket
//
type BucketInfo struct {
	Count      uint64
	NominalVal uint64
	MeanVal    uint64
	RangeLow   uint64
	RangeHigh  uint64
}

// A Bucketer is a Averager which also tracks the distribution of values.
//
type Bucketer interface {
	Averager
	DistGet() []BucketInfo
}

// Register a set of statistics.
//
// statsStruct is a pointer to a structure which has one or more fields holding
// statistics.  Fields with an empty Name are named after the field.  The
// combination of pkgName and statsGroupName must be unique.
//
func Register(pkgName string, statsGroupName string, statsStruct interface{}) {
	register(pkgName, statsGroupName, statsStruct)
}

// UnRegister a set of statistics.
//
func UnRegister(pkgName string, statsGroupName string) {
	unRegister(pkgName, statsGroupName)
}

// SprintStats returns the value of all statistics associated with pkgName and
// statsGroupName, one statistic per line.
//
// Use "*" to select all groups with a given package name.
//
func SprintStats(stringFmt StatStringFormat, pkgName string, statsGroupName string) (values string) {
	return sprintStats(stringFmt, pkgName, statsGroupName)
}

// Total is a simple totaler. It supports the Totaler interface.
//
type Total struct {
	total uint64 // Ensure 64-bit alignment
	Name  string
}

func (this *Total) Add(value uint64) {
	atomic.AddUint64(&this.total, value)
}

func (this *Total) Increment() {
	atomic.AddUint64(&this.total, 1)
}

func (this *Total) TotalGet() uint64 {
	return atomic.LoadUint64(&this.total)
}

func (this *Total) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return this.sprint(stringFmt, pkgName, statsGroupName)
}

// Average counts a number of items and their average size. It supports the
// Averager interface.
//
type Average struct {
	count uint64 // Ensure 64-bit alignment
	total uint64 // Ensure 64-bit alignment
	Name  string
}

func (this *Average) Add(value uint64) {
	atomic.AddUint64(&this.total, value)
	atomic.AddUint64(&this.count, 1)
}

func (this *Average) Increment() {
	this.Add(1)
}

func (this *Average) CountGet() uint64 {
	return atomic.LoadUint64(&this.count)
}

func (this *Average) TotalGet() uint64 {
	return atomic.LoadUint64(&this.total)
}

func (this *Average) AverageGet() uint64 {
	count := atomic.LoadUint64(&this.count)
	if 0 == count {
		return 0
	}
	return atomic.LoadUint64(&this.total) / count
}

func (this *Average) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return this.sprint(stringFmt, pkgName, statsGroupName)
}

// BucketLog2Round holds bucketized statistics where the stats value is placed in
// bucket N, determined by round(log2(value) + 1), where round() rounds to the
// nearest integar and value 0 goes in bucket 0 instead of negative infinity.
//
// Example mappings of values to buckets:
//
//  Values  Bucket
//       0       0
//       1       1
//       2       2
//   3 - 5       3
//  6 - 11       4
// 12 - 22       5
//     etc.
//
type BucketLog2Round struct {
	Name        string
	statBuckets [log2RoundNBucket]uint64
}

func (this *BucketLog2Round) Add(value uint64) {
	var (
		idx int
	)

	if 0 != value {
		idx = bits.Len64(value)
		if (idx+1 < log2RoundNBucket) && (value >= log2RoundLow[idx+1]) {
			idx++
		}
	}

	atomic.AddUint64(&this.statBuckets[idx], 1)
}

func (this *BucketLog2Round) Increment() {
	this.Add(1)
}

func (this *BucketLog2Round) CountGet() uint64 {
	_, count, _, _ := bucketCalcStat(this.DistGet())
	return count
}

func (this *BucketLog2Round) TotalGet() uint64 {
	_, _, total, _ := bucketCalcStat(this.DistGet())
	return total
}

func (this *BucketLog2Round) AverageGet() uint64 {
	_, _, _, mean := bucketCalcStat(this.DistGet())
	return mean
}

// DistGet returns BucketInfo information for all the buckets.
//
func (this *BucketLog2Round) DistGet() []BucketInfo {
	bucketInfo := make([]BucketInfo, log2RoundNBucket)
	copy(bucketInfo, log2RoundBucketTable[:])
	for i := range bucketInfo {
		bucketInfo[i].Count = atomic.LoadUint64(&this.statBuckets[i])
	}
	return bucketInfo
}

func (this *BucketLog2Round) Sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	return bucketSprint(stringFmt, pkgName, statsGroupName, this.Name, this.DistGet())
}
