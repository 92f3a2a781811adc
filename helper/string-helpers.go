package helper

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	om "github.com/cevaris/ordered_map"
	"github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
)

// GetStringFromInterfaceUseUtcTime will convert an interface{} value to a string for the
// purposes of gt/lt comparison. Times will be converted to UTC for string comparison!
func GetStringFromInterfaceUseUtcTime(log logger.Logger, input interface{}) string {
	return GetStringFromInterface(log, input, true)
}

// GetStringFromInterfacePreserveTimeZone will convert an interface{} value to a string.
// Times will be in local time.
func GetStringFromInterfacePreserveTimeZone(log logger.Logger, input interface{}) string {
	return GetStringFromInterface(log, input, false)
}

// GetStringFromInterface will convert an interface{} value to a string.
// Optionally return Times in UTC.
func GetStringFromInterface(log logger.Logger, input interface{}, useUTC bool) (retval string) {
	switch v := input.(type) {
	case int, int16, int32, int64, int8, uint8:
		retval = fmt.Sprintf("%d", v)
	case string:
		retval = v
	case float32:
		retval = strconv.FormatFloat(float64(v), 'f', -1, 32) // use 'f' to preserve all decimal points without an exponent.
	case float64:
		retval = strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		if useUTC { // if caller requests UTC conversion...
			retval = v.UTC().Format(constants.TimeFormatYearSecondsTZ)
		} else { // else output Local time...
			retval = v.Format(constants.TimeFormatYearSecondsTZ)
		}
	case []uint8:
		retval = string(v)
	case bool:
		retval = fmt.Sprintf("%v", v)
	case nil:
		retval = ""
	default:
		log.Panic("unhandled type while fetching string from interface: type = ", reflect.TypeOf(input), "; value = ", input)
	}
	return
}

// CsvToStringSliceTrimSpaces converts a string of the form 'f1, f2, f3...' into a slice
// of string values with leading and trailing spaces removed.
func CsvToStringSliceTrimSpaces(s string) []string {
	tokens := strings.Split(s, ",")
	for x := range tokens {
		tokens[x] = strings.TrimSpace(tokens[x])
	}
	return tokens
}

// StringSliceToOrderedMap adds each value in s to an ordered map with key and value
// both set to the value in s.
func StringSliceToOrderedMap(s []string) *om.OrderedMap {
	retval := om.NewOrderedMap()
	for _, v := range s {
		retval.Set(v, v)
	}
	return retval
}

// TokensToOrderedMap converts a string of the form 'k1:v1,k2:v2' into an ordered map.
// 1) Split on comma to find each key:value pair.
// 2) Split on colon to separate the key from the value.
func TokensToOrderedMap(s string) *om.OrderedMap {
	o := om.NewOrderedMap()
	tokens := strings.Split(s, ",")
	for idx := range tokens {
		x := strings.Split(tokens[idx], ":")
		if len(x) >= 2 { // if there is a key:value...
			o.Set(strings.TrimSpace(x[0]), strings.TrimSpace(x[1]))
		}
	}
	return o
}

// ToUpperTrimmed converts s to upper case with surrounding spaces removed.
// Staged and warehouse column names use this single case convention.
func ToUpperTrimmed(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
