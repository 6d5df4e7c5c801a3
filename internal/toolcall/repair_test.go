package toolcall

import (
	"errors"
	"reflect"
	"testing"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			name: "empty payload",
			raw:  "",
			want: map[string]any{},
		},
		{
			name: "whitespace only",
			raw:  "  \n\t ",
			want: map[string]any{},
		},
		{
			name: "well-formed object",
			raw:  `{"ref":"inbox","limit":5}`,
			want: map[string]any{"ref": "inbox", "limit": float64(5)},
		},
		{
			name: "surrounding whitespace",
			raw:  "  {\"a\":1}\n",
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "raw newline inside a string value stripped",
			raw:  "{\"title\":\"line one\nline two\"}",
			want: map[string]any{"title": "line oneline two"},
		},
		{
			name: "raw tab and carriage return stripped",
			raw:  "{\"ref\":\"a\tb\r\"}",
			want: map[string]any{"ref": "ab"},
		},
		{
			name: "escaped newline survives intact",
			raw:  `{"title":"line one\nline two"}`,
			want: map[string]any{"title": "line one\nline two"},
		},
		{
			name: "concatenated objects with raw newlines between and inside",
			raw:  "{\"a\":\"x\ny\"}\n{\"b\":2}",
			want: map[string]any{"a": "xy", "b": float64(2)},
		},
		{
			name: "concatenated objects merge with later keys winning",
			raw:  `{"a":"1"}{"a":"2","b":"3"}`,
			want: map[string]any{"a": "2", "b": "3"},
		},
		{
			name: "three concatenated objects",
			raw:  `{"a":1}{"b":2}{"a":3}`,
			want: map[string]any{"a": float64(3), "b": float64(2)},
		},
		{
			name: "prose around the object",
			raw:  `Sure, calling the tool now: {"ref":"groceries"} done.`,
			want: map[string]any{"ref": "groceries"},
		},
		{
			name: "braces inside string values",
			raw:  `{"content":"use {curly} braces"}{"title":"a}b"}`,
			want: map[string]any{"content": "use {curly} braces", "title": "a}b"},
		},
		{
			name: "escaped quotes inside strings",
			raw:  `{"content":"she said \"hi\" {"}`,
			want: map[string]any{"content": `she said "hi" {`},
		},
		{
			name: "nested objects stay nested",
			raw:  `{"meta":{"tags":["a","b"]},"title":"x"}`,
			want: map[string]any{
				"meta":  map[string]any{"tags": []any{"a", "b"}},
				"title": "x",
			},
		},
		{
			name: "shallow merge replaces nested objects wholesale",
			raw:  `{"meta":{"a":1}}{"meta":{"b":2}}`,
			want: map[string]any{"meta": map[string]any{"b": float64(2)}},
		},
		{
			name: "unterminated trailing object dropped",
			raw:  `{"a":1}{"b":`,
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "invalid span between valid ones skipped",
			raw:  `{"a":1}{not json}{"b":2}`,
			want: map[string]any{"a": float64(1), "b": float64(2)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Repair(tt.raw)
			if err != nil {
				t.Fatalf("Repair(%q) error = %v", tt.raw, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Repair(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRepair_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare scalar", "42"},
		{"json array", `[1,2,3]`},
		{"prose without object", "I could not produce arguments"},
		{"lone opening brace", "{"},
		{"object with invalid body", `{broken}`},
		{"null literal", "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Repair(tt.raw)
			var malformed *MalformedArgumentsError
			if !errors.As(err, &malformed) {
				t.Fatalf("Repair(%q) error = %v, want MalformedArgumentsError", tt.raw, err)
			}
			if malformed.Raw != tt.raw {
				t.Errorf("Raw = %q, want %q", malformed.Raw, tt.raw)
			}
		})
	}
}

func TestExtractObjects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", `{"a":1}`, []string{`{"a":1}`}},
		{"two adjacent", `{"a":1}{"b":2}`, []string{`{"a":1}`, `{"b":2}`}},
		{"separated by prose", `x {"a":1} y {"b":2} z`, []string{`{"a":1}`, `{"b":2}`}},
		{"nested counts as one", `{"a":{"b":{}}}`, []string{`{"a":{"b":{}}}`}},
		{"stray closer ignored", `}{"a":1}`, []string{`{"a":1}`}},
		{"unterminated dropped", `{"a":1}{"b"`, []string{`{"a":1}`}},
		{"none", "no objects here", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractObjects(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractObjects(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}
