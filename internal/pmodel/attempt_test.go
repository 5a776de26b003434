package pmodel

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestAttemptDecodesWireFormat(t *testing.T) {
	body := []byte(`{
		"id": 42,
		"programming_language": "C++",
		"source_code": "int main() { return 0; }",
		"time_limit_seconds": 5,
		"memory_limit_megabytes": 64,
		"tests": [[["5"], ["25"]], [["1", "2"], ["3"]]]
	}`)

	var attempt Attempt
	if err := json.Unmarshal(body, &attempt); err != nil {
		t.Fatalf("unmarshal attempt: %v", err)
	}

	if attempt.ID != 42 {
		t.Errorf("id = %d, want 42", attempt.ID)
	}
	if attempt.Language != LangCpp {
		t.Errorf("language = %q, want %q", attempt.Language, LangCpp)
	}
	if attempt.TimeLimitSeconds != 5 || attempt.MemoryLimitMegabytes != 64 {
		t.Errorf("limits = %d/%d, want 5/64", attempt.TimeLimitSeconds, attempt.MemoryLimitMegabytes)
	}
	if len(attempt.Tests) != 2 {
		t.Fatalf("tests = %d, want 2", len(attempt.Tests))
	}
	if !reflect.DeepEqual(attempt.Tests[0].Input, []string{"5"}) {
		t.Errorf("test 1 input = %v", attempt.Tests[0].Input)
	}
	if !reflect.DeepEqual(attempt.Tests[1].Expected, []string{"3"}) {
		t.Errorf("test 2 expected = %v", attempt.Tests[1].Expected)
	}
}

func TestTestCaseRejectsWrongArity(t *testing.T) {
	var tc TestCase
	if err := json.Unmarshal([]byte(`[["a"]]`), &tc); err == nil {
		t.Fatal("expected error for single-element test case")
	}
	if err := json.Unmarshal([]byte(`[["a"], ["b"], ["c"]]`), &tc); err == nil {
		t.Fatal("expected error for three-element test case")
	}
}

func TestTestCaseMarshalRoundTrip(t *testing.T) {
	tc := TestCase{Input: []string{"1", "2"}, Expected: []string{"3"}}
	data, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded TestCase
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(tc, decoded) {
		t.Errorf("round trip = %+v, want %+v", decoded, tc)
	}
}

func TestTestCaseMarshalEmptySides(t *testing.T) {
	data, err := json.Marshal(TestCase{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `[[],[]]` {
		t.Errorf("marshal = %s, want [[],[]]", data)
	}
}

func TestLanguageValid(t *testing.T) {
	for _, lang := range Languages {
		if !lang.Valid() {
			t.Errorf("%q should be valid", lang)
		}
	}
	for _, tag := range []Language{"", "python", "Fortran", "c++"} {
		if tag.Valid() {
			t.Errorf("%q should be invalid", tag)
		}
	}
}
