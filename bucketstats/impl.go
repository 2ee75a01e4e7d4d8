// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const log2RoundNBucket = 65

var (
	log2RoundLow         [log2RoundNBucket]uint64
	log2RoundBucketTable [log2RoundNBucket]BucketInfo
)

func init() {
	log2RoundLow[0] = 0
	log2RoundLow[1] = 1
	for i := 2; i < log2RoundNBucket; i++ {
		low := math.Ceil(math.Sqrt2 * math.Ldexp(1, i-2))
		if low >= math.Ldexp(1, 64) {
			log2RoundLow[i] = math.MaxUint64
		} else {
			log2RoundLow[i] = uint64(low)
		}
	}

	for i := 0; i < log2RoundNBucket; i++ {
		info := &log2RoundBucketTable[i]
		info.RangeLow = log2RoundLow[i]
		if i+1 < log2RoundNBucket {
			info.RangeHigh = log2RoundLow[i+1] - 1
		} else {
			info.RangeHigh = math.MaxUint64
		}
		if 0 < i {
			info.NominalVal = uint64(1) << uint(i-1)
		}
		info.MeanVal = info.RangeLow/2 + info.RangeHigh/2 + (info.RangeLow & info.RangeHigh & 0x1)
	}
}

var (
	statsNameMapLock   sync.Mutex
	pkgNameToGroupName = make(map[string]map[string]interface{})
)

func register(pkgName string, statsGroupName string, statsStruct interface{}) {
	if ("" == pkgName) && ("" == statsGroupName) {
		panic("statistics group must have non-empty pkgName or statsGroupName")
	}

	structAsValue := reflect.ValueOf(statsStruct)
	if (reflect.Ptr != structAsValue.Kind()) || (reflect.Struct != structAsValue.Elem().Kind()) {
		panic(fmt.Sprintf("statsStruct for statistics group '%s' is (%s), should be (*struct)",
			statsGroupName, reflect.TypeOf(statsStruct)))
	}

	structAsValue = structAsValue.Elem()
	structAsType := structAsValue.Type()

	names := make(map[string]struct{})

	for i := 0; i < structAsType.NumField(); i++ {
		namePtr := statName(structAsValue.Field(i))
		if nil == namePtr {
			continue
		}
		if "" == *namePtr {
			*namePtr = structAsType.Field(i).Name
		}
		*namePtr = scrubName(*namePtr)
		if _, ok := names[*namePtr]; ok {
			panic(fmt.Sprintf("stats '%s' field '%s' name '%s' is not unique",
				statsGroupName, structAsType.Field(i).Name, *namePtr))
		}
		names[*namePtr] = struct{}{}
	}

	pkgName = scrubName(pkgName)
	statsGroupName = scrubName(statsGroupName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	groupMap, ok := pkgNameToGroupName[pkgName]
	if !ok {
		groupMap = make(map[string]interface{})
		pkgNameToGroupName[pkgName] = groupMap
	}
	if _, ok = groupMap[statsGroupName]; ok {
		panic(fmt.Sprintf("duplicate statistics group '%s.%s'", pkgName, statsGroupName))
	}
	groupMap[statsGroupName] = statsStruct
}

func unRegister(pkgName string, statsGroupName string) {
	pkgName = scrubName(pkgName)
	statsGroupName = scrubName(statsGroupName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	groupMap, ok := pkgNameToGroupName[pkgName]
	if !ok {
		return
	}
	delete(groupMap, statsGroupName)
	if 0 == len(groupMap) {
		delete(pkgNameToGroupName, pkgName)
	}
}

// statName returns a pointer to the Name field of a statistic, or nil if
// fieldAsValue is not one of our statistic types
func statName(fieldAsValue reflect.Value) *string {
	if !fieldAsValue.CanAddr() {
		return nil
	}
	switch stat := fieldAsValue.Addr().Interface().(type) {
	case *Total:
		return &stat.Name
	case *Average:
		return &stat.Name
	case *BucketLog2Round:
		return &stat.Name
	}
	return nil
}

func sprintStats(stringFmt StatStringFormat, pkgName string, statsGroupName string) (statValues string) {
	var (
		groupNames []string
	)

	pkgName = scrubName(pkgName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	groupMap, ok := pkgNameToGroupName[pkgName]
	if !ok {
		panic(fmt.Sprintf("bucketstats.sprintStats(): statistics package '%s' is not registered", pkgName))
	}

	if "*" == statsGroupName {
		for group := range groupMap {
			groupNames = append(groupNames, group)
		}
		sort.Strings(groupNames)
	} else {
		groupNames = []string{scrubName(statsGroupName)}
	}

	for _, group := range groupNames {
		statsStruct, ok := groupMap[group]
		if !ok {
			panic(fmt.Sprintf("bucketstats.sprintStats(): statistics group '%s.%s' is not registered", pkgName, group))
		}
		statValues += sprintStatsStruct(stringFmt, pkgName, group, statsStruct)
	}

	return
}

func sprintStatsStruct(stringFmt StatStringFormat, pkgName string, statsGroupName string, statsStruct interface{}) (statValues string) {
	structAsValue := reflect.ValueOf(statsStruct).Elem()

	for i := 0; i < structAsValue.NumField(); i++ {
		fieldAsValue := structAsValue.Field(i)
		if !fieldAsValue.CanAddr() {
			continue
		}
		if stat, ok := fieldAsValue.Addr().Interface().(Totaler); ok {
			statValues += stat.Sprint(stringFmt, pkgName, statsGroupName)
		}
	}

	return
}

func statisticName(pkgName string, statsGroupName string, fieldName string) string {
	return strings.Join([]string{scrubName(pkgName), scrubName(statsGroupName), scrubName(fieldName)}, ".")
}

func (this *Total) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(pkgName, statsGroupName, this.Name)

	switch stringFmt {
	case StatFormatParsable1:
		return fmt.Sprintf("%s total:%d\n", statName, this.TotalGet())
	}

	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

func (this *Average) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(pkgName, statsGroupName, this.Name)

	switch stringFmt {
	case StatFormatParsable1:
		return fmt.Sprintf("%s total:%d count:%d avg:%d\n",
			statName, this.TotalGet(), this.CountGet(), this.AverageGet())
	}

	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

// Given the distribution ([]BucketInfo) for a bucketized statistic, calculate:
//
// o the index of the last entry with a non-zero count
// o the count (number things in buckets)
// o sum of counts * MeanVal for each bucket
// o the mean (sum / count)
//
func bucketCalcStat(bucketInfo []BucketInfo) (lastIdx int, count uint64, sum uint64, mean uint64) {
	var (
		bigSum     big.Int
		bigTmp     big.Int
		bigProduct big.Int
	)

	for i := 0; i < len(bucketInfo); i++ {
		count += bucketInfo[i].Count

		bigTmp.SetUint64(bucketInfo[i].Count)
		bigProduct.SetUint64(bucketInfo[i].MeanVal)
		bigProduct.Mul(&bigProduct, &bigTmp)
		bigSum.Add(&bigSum, &bigProduct)

		if 0 < bucketInfo[i].Count {
			lastIdx = i
		}
	}

	if bigSum.IsUint64() {
		sum = bigSum.Uint64()
	} else {
		sum = math.MaxUint64
	}

	if 0 < count {
		bigTmp.SetUint64(count)
		bigSum.Div(&bigSum, &bigTmp)
		mean = bigSum.Uint64()
	}

	return
}

func bucketSprint(stringFmt StatStringFormat, pkgName string, statsGroupName string, fieldName string, bucketInfo []BucketInfo) string {
	lastIdx, count, sum, mean := bucketCalcStat(bucketInfo)
	statName := statisticName(pkgName, statsGroupName, fieldName)

	switch stringFmt {
	case StatFormatParsable1:
		line := fmt.Sprintf("%s total:%d count:%d avg:%d", statName, sum, count, mean)
		for idx := 0; idx <= lastIdx; idx++ {
			line += fmt.Sprintf(" %s:%d", bucketName(bucketInfo[idx].NominalVal), bucketInfo[idx].Count)
		}
		return line + "\n"
	}

	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

// bucketName formats a bucket's nominal value in at most 4 characters
func bucketName(value uint64) string {
	var (
		suffixes = []string{"", "K", "M", "G", "T", "P", "E"}
		unit     int
	)

	for (1024 <= value) && (unit < len(suffixes)-1) {
		value /= 1024
		unit++
	}

	return fmt.Sprintf("%d%s", value, suffixes[unit])
}

func scrubName(name string) string {
	// Names should include only printable characters that are not
	// whitespace.  Also disallow splat ('*'), sharp ('#') and
	// colon (':') used as delimiters in output.
	replaceChar := func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return '_'
		case !unicode.IsPrint(r):
			return '_'
		case r == '*':
			return '_'
		case r == ':':
			return '_'
		case r == '#':
			return '_'
		}
		return r
	}

	return strings.Map(replaceChar, name)
}
