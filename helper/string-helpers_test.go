package helper

import (
	"testing"
	"time"

	"github.com/danmont/starpipe/logger"
)

var testLog = logger.NewLogger("helper-test", "error", false)

func TestGetStringFromInterface(t *testing.T) {
	if got := GetStringFromInterface(testLog, 42, false); got != "42" {
		t.Error("int conversion failed: ", got)
	}
	if got := GetStringFromInterface(testLog, 1.50, false); got != "1.5" {
		t.Error("float conversion failed: ", got)
	}
	if got := GetStringFromInterface(testLog, nil, false); got != "" {
		t.Error("nil conversion failed: ", got)
	}
	if got := GetStringFromInterface(testLog, []uint8("abc"), false); got != "abc" {
		t.Error("byte slice conversion failed: ", got)
	}
	d := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := GetStringFromInterface(testLog, d, true); got != "20240102T030405+0000" {
		t.Error("time conversion failed: ", got)
	}
}

func TestCsvToStringSliceTrimSpaces(t *testing.T) {
	got := CsvToStringSliceTrimSpaces(" a, b ,c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Error("unexpected slice: ", got)
	}
}

func TestTokensToOrderedMap(t *testing.T) {
	o := TokensToOrderedMap("k1:v1, k2:v2")
	v, ok := o.Get("k1")
	if !ok || v != "v1" {
		t.Error("missing k1")
	}
	v, ok = o.Get("k2")
	if !ok || v != "v2" {
		t.Error("missing k2")
	}
}

func TestToUpperTrimmed(t *testing.T) {
	if got := ToUpperTrimmed(" city "); got != "CITY" {
		t.Error("unexpected value: ", got)
	}
}

func TestValidateStructIsPopulated(t *testing.T) {
	type demo struct {
		Name  string `errorTxt:"the name" mandatory:"yes"`
		Other string `errorTxt:"other"`
	}
	if err := ValidateStructIsPopulated(&demo{}); err == nil {
		t.Error("expected error for unset mandatory field")
	}
	if err := ValidateStructIsPopulated(&demo{Name: "x"}); err != nil {
		t.Error("unexpected error: ", err)
	}
}
