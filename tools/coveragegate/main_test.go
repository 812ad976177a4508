package main

import (
	"strings"
	"testing"
)

const sampleProfile = `mode: atomic
github.com/Thejuampi/ably-client-go/ably/channel.go:10.2,12.3 4 1
github.com/Thejuampi/ably-client-go/ably/channel.go:14.2,16.3 6 0
github.com/Thejuampi/ably-client-go/ably/channel.go:14.2,16.3 6 3
github.com/Thejuampi/ably-client-go/ably/rest.go:20.2,22.3 5 0
`

func TestParseProfileMergesDuplicateBlocks(t *testing.T) {
	files, err := parseProfile(strings.NewReader(sampleProfile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	channel, ok := findCoverage(files, "ably/channel.go")
	if !ok || channel.covered != 10 || channel.total != 10 {
		t.Fatalf("expected channel.go fully covered once, got %+v %v", channel, ok)
	}
	rest, _ := findCoverage(files, "ably/rest.go")
	if rest.covered != 0 || rest.total != 5 {
		t.Fatalf("expected rest.go uncovered, got %+v", rest)
	}
}

func TestParseProfileRejectsMalformedLines(t *testing.T) {
	if _, err := parseProfile(strings.NewReader("mode: set\nbroken line\n")); err == nil {
		t.Fatalf("expected malformed line error")
	}
}

func TestFindCoverageMatchesWholePathSegments(t *testing.T) {
	files := map[string]coverage{"example.com/x/myably/rest.go": {covered: 1, total: 1}}
	if _, ok := findCoverage(files, "ably/rest.go"); ok {
		t.Fatalf("expected a partial directory name not to match")
	}
}

func TestEvaluateReportsMissingAndLowFiles(t *testing.T) {
	files := map[string]coverage{
		"m/ably/channel.go": {covered: 5, total: 10},
		"m/ably/rest.go":    {covered: 10, total: 10},
	}
	total, failures := evaluate(files, thresholds{overall: 50, core: 90, io: 75})
	if total.covered != 15 || total.total != 20 {
		t.Fatalf("unexpected total %+v", total)
	}
	joined := strings.Join(failures, "\n")
	if !strings.Contains(joined, "core file ably/channel.go is 50.0% (required 90.0%)") {
		t.Fatalf("expected low core file reported, got:\n%s", joined)
	}
	if !strings.Contains(joined, "io file ably/realtime.go is missing") {
		t.Fatalf("expected missing io file reported, got:\n%s", joined)
	}
	if strings.Contains(joined, "aggregate") {
		t.Fatalf("expected aggregate to pass, got:\n%s", joined)
	}
}

func TestPackageSummary(t *testing.T) {
	lines := packageSummary(map[string]coverage{
		"m/ably/a.go":       {covered: 1, total: 2},
		"m/ably/b.go":       {covered: 1, total: 2},
		"m/ably/codec/c.go": {covered: 0, total: 4},
	})
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "m/ably ") || !strings.Contains(lines[0], "50.0% (2/4)") {
		t.Fatalf("unexpected summary %q", lines)
	}
}
