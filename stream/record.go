package stream

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	om "github.com/cevaris/ordered_map"
	h "github.com/danmont/starpipe/helper"
	"github.com/danmont/starpipe/logger"
)

// NewRecord creates a new Record and returns it by value as we expect these records to go over
// channels by value too.
func NewRecord() Record {
	return Record{
		data: make(map[string]interface{}),
	}
}

func NewNilRecord() Record {
	return Record{}
}

// Record is used to communicate rows between components.
// Keys are column names; staged warehouse columns are upper case by convention
// (see NormaliseKeysToUpper), while values can hold nil to represent database nulls.
type Record struct {
	data map[string]interface{}
}

func (sr Record) RecordIsNil() bool {
	return len(sr.data) == 0 && sr.data == nil
}

func (sr Record) SetData(name string, value interface{}) {
	sr.data[name] = value
}

func (sr Record) GetData(name string) interface{} {
	val, ok := sr.data[name]
	if !ok {
		panic(fmt.Sprintf("invalid key name %q supplied while trying to fetch value from record: %v", name, sr.data))
	}
	return val
}

// GetDataOk fetches a value without panicking so callers can validate
// records against an expected column set.
func (sr Record) GetDataOk(name string) (interface{}, bool) {
	val, ok := sr.data[name]
	return val, ok
}

func (sr Record) HasData(name string) bool {
	_, ok := sr.data[name]
	return ok
}

func (sr Record) GetDataMap() map[string]interface{} {
	return sr.data
}

func (sr Record) GetDataLen() int {
	return len(sr.data)
}

// GetDataAsStringUseUtcTime will convert an interface{} value to a string for the purposes
// of gt/lt comparison. Times will be converted to UTC for string comparison!
func (sr Record) GetDataAsStringUseUtcTime(log logger.Logger, name string) string {
	return sr.getStringFromInterface(log, name, true)
}

// GetDataAsStringPreserveTimeZone will convert an interface{} value to a string.
// Times will be in local time.
func (sr Record) GetDataAsStringPreserveTimeZone(log logger.Logger, name string) string {
	return sr.getStringFromInterface(log, name, false)
}

func (sr Record) getStringFromInterface(log logger.Logger, name string, useUTC bool) string {
	v, ok := sr.data[name]
	if !ok {
		panic(fmt.Sprintf("unexpected field %q does not exist in the input stream (bad pipe definition?)", name))
	}
	return h.GetStringFromInterface(log, v, useUTC)
}

// GetSortedDataMapKeys will return a slice of the keys found in map sr.data
// sorted alphabetically.
func (sr Record) GetSortedDataMapKeys() []string {
	retval := make([]string, 0)
	for k := range sr.data {
		retval = append(retval, k)
	}
	sort.Slice(retval, func(i, j int) bool {
		return retval[i] < retval[j]
	})
	return retval
}

func (sr Record) CopyTo(t Record) {
	for k, v := range sr.data {
		t.SetData(k, v)
	}
}

// NormaliseKeysToUpper returns a copy of sr with all keys converted to upper case.
// Source systems deliver mixed-case column names, while staged and warehouse tables
// use a single upper-case convention downstream.
func (sr Record) NormaliseKeysToUpper() Record {
	retval := NewRecord()
	for k, v := range sr.data {
		retval.SetData(strings.ToUpper(strings.TrimSpace(k)), v)
	}
	return retval
}

// DataIsDeepEqual compares two records for equality using reflect.DeepEqual
// over string renditions of the values.
// Specify the keys to use for the comparison in ordered map compareKeys, where
// contents of compareKeys["X"]="Y" checks sr["X"] == targetRec["Y"] and so on.
// Ordered maps are used as the comparison exits early when inequality is found,
// so the caller can prioritise the keys most likely to differ.
func (sr Record) DataIsDeepEqual(log logger.Logger, targetRec Record, compareKeys *om.OrderedMap) (retval bool) {
	iter := compareKeys.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() { // while we have more keys to compare...
		v1 := sr.GetDataAsStringUseUtcTime(log, h.GetStringFromInterfaceUseUtcTime(log, kv.Key))
		v2 := targetRec.GetDataAsStringUseUtcTime(log, h.GetStringFromInterfaceUseUtcTime(log, kv.Value))
		retval = reflect.DeepEqual(v1, v2)
		if !retval { // if records are NOT equal then return early!
			break
		}
	}
	return
}

// MergeDataStreams will combine records from s1 into a new record, followed by s2 into
// the new record before returning it. You can supply a nil s2 to create a copy of s1.
// If allowOverwrite is false, an error is returned if a field in s2 already exists in s1.
func MergeDataStreams(s1 Record, s2 Record, allowOverwrite bool) (Record, error) {
	retval := NewRecord()
	for k, v := range s1.GetDataMap() { // for each key:value in the 1st source...
		retval.data[k] = v
	}
	if !s2.RecordIsNil() {
		for k, v := range s2.GetDataMap() { // for each key:value in the 2nd source...
			_, ok := retval.data[k]
			if ok && !allowOverwrite { // if the key already exists...
				return Record{}, fmt.Errorf("field %v exists in stream record", k)
			}
			retval.data[k] = v
		}
	}
	return retval, nil
}
