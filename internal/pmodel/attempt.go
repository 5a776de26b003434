// Package pmodel defines the wire-level types exchanged with the broker.
package pmodel

import (
	"encoding/json"
	"fmt"
)

// Language identifies a supported programming language toolchain.
type Language string

const (
	LangPython     Language = "Python"
	LangJavaScript Language = "JavaScript"
	LangC          Language = "C"
	LangCpp        Language = "C++"
	LangRust       Language = "Rust"
	LangGo         Language = "Go"
	LangJava       Language = "Java"
	LangKotlin     Language = "Kotlin"
	LangCSharp     Language = "C#"
)

// Languages lists every supported language tag.
var Languages = []Language{
	LangPython, LangJavaScript, LangC, LangCpp,
	LangRust, LangGo, LangJava, LangKotlin, LangCSharp,
}

// Valid reports whether the tag is one of the supported languages.
func (l Language) Valid() bool {
	for _, known := range Languages {
		if l == known {
			return true
		}
	}
	return false
}

// TestCase is an ordered pair of input lines and expected output lines.
// On the wire it is a two-element array: [[input...], [expected...]].
type TestCase struct {
	Input    []string
	Expected []string
}

// UnmarshalJSON decodes the nested-array wire form.
func (tc *TestCase) UnmarshalJSON(data []byte) error {
	var pair [][]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("test case must have 2 elements, got %d", len(pair))
	}
	tc.Input = pair[0]
	tc.Expected = pair[1]
	return nil
}

// MarshalJSON encodes back to the nested-array wire form.
func (tc TestCase) MarshalJSON() ([]byte, error) {
	input := tc.Input
	if input == nil {
		input = []string{}
	}
	expected := tc.Expected
	if expected == nil {
		expected = []string{}
	}
	return json.Marshal([][]string{input, expected})
}

// Attempt is the unit of work consumed from the task exchange.
// It is immutable for the duration of execution.
type Attempt struct {
	ID                   int64      `json:"id"`
	Language             Language   `json:"programming_language"`
	SourceCode           string     `json:"source_code"`
	TimeLimitSeconds     int        `json:"time_limit_seconds"`
	MemoryLimitMegabytes int        `json:"memory_limit_megabytes"`
	Tests                []TestCase `json:"tests"`
}
