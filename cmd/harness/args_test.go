package main

import (
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	coreerrors "github.com/davidahmann/harness/core/errors"
)

func TestReorderInterspersedFlags(t *testing.T) {
	valueFlags := map[string]bool{"reason": true, "workdir": true}
	tests := []struct {
		name      string
		arguments []string
		want      []string
	}{
		{name: "empty", arguments: nil, want: nil},
		{name: "positional_first", arguments: []string{"step-002", "--reason", "obsolete", "--json"}, want: []string{"--reason", "obsolete", "--json", "step-002"}},
		{name: "inline_value", arguments: []string{"step-002", "--reason=obsolete"}, want: []string{"--reason=obsolete", "step-002"}},
		{name: "double_dash", arguments: []string{"--json", "--", "--not-a-flag"}, want: []string{"--json", "--not-a-flag"}},
		{name: "trailing_value_flag", arguments: []string{"a", "--workdir"}, want: []string{"--workdir", "a"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := reorderInterspersedFlags(test.arguments, valueFlags)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Fatalf("reorder mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReorderKeepsPositionalOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOf(rapid.StringMatching(`[a-z0-9]{1,6}`)).Draw(t, "words")
		flags := rapid.SliceOf(rapid.SampledFrom([]string{"--json", "--force", "--verify"})).Draw(t, "flags")
		arguments := make([]string, 0, len(words)+len(flags))
		arguments = append(arguments, words...)
		for _, flagToken := range flags {
			position := rapid.IntRange(0, len(arguments)).Draw(t, "position")
			arguments = slices.Insert(arguments, position, flagToken)
		}

		reordered := reorderInterspersedFlags(arguments, map[string]bool{})
		if len(reordered) != len(arguments) {
			t.Fatalf("length changed: %v -> %v", arguments, reordered)
		}
		var positionals []string
		for _, argument := range reordered[len(flags):] {
			if strings.HasPrefix(argument, "-") {
				t.Fatalf("flag after positionals: %v", reordered)
			}
			positionals = append(positionals, argument)
		}
		if !slices.Equal(positionals, words) {
			t.Fatalf("positional order changed: %v -> %v", words, positionals)
		}
	})
}

func TestParseFlagsDerivesValueFlags(t *testing.T) {
	var common commonFlags
	flagSet := newFlagSet("skip", &common)
	var reason string
	flagSet.StringVar(&reason, "reason", "", "")
	if err := parseFlags(flagSet, []string{"step-002", "--reason", "obsolete", "--json", "--workdir", "/tmp/x"}); err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if reason != "obsolete" || !common.jsonOutput || common.workDir != "/tmp/x" {
		t.Fatalf("unexpected parse: reason=%q common=%#v", reason, common)
	}
	if diff := cmp.Diff([]string{"step-002"}, flagSet.Args()); diff != "" {
		t.Fatalf("positionals (-want +got):\n%s", diff)
	}
}

func TestParseFlagsKeepsJSONAfterUnknownFlag(t *testing.T) {
	var common commonFlags
	flagSet := newFlagSet("status", &common)
	err := parseFlags(flagSet, []string{"--bogus", "--workdir", "/tmp/x", "--json"})
	if err == nil {
		t.Fatal("expected unknown flag error")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
		t.Fatalf("parse error should be invalid input: %v", err)
	}
	if !common.jsonOutput {
		t.Fatal("--json after an unknown flag must still select JSON output")
	}
}

func TestHasJSONFlag(t *testing.T) {
	tests := []struct {
		arguments []string
		want      bool
	}{
		{arguments: []string{"--json"}, want: true},
		{arguments: []string{"-json"}, want: true},
		{arguments: []string{"--bogus", "--json=true"}, want: true},
		{arguments: []string{"--json=false"}, want: false},
		{arguments: []string{"--", "--json"}, want: false},
		{arguments: []string{"json"}, want: false},
		{arguments: nil, want: false},
	}
	for _, test := range tests {
		if got := hasJSONFlag(test.arguments); got != test.want {
			t.Fatalf("hasJSONFlag(%q)=%t want %t", test.arguments, got, test.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	if diff := cmp.Diff([]string{"A", "B", "C"}, splitList(" A, ,B,C ")); diff != "" {
		t.Fatalf("splitList (-want +got):\n%s", diff)
	}
	if got := splitList(""); got != nil {
		t.Fatalf("empty list: %#v", got)
	}
}
