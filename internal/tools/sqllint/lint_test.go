package main

import (
	"strings"
	"testing"
)

const goodSrc = "package q\n\nconst QOne = `--sql 0f4c2d9e-5b1a-4c3e-9d7f-1a2b3c4d5e6f\nSELECT 1`\n\nconst Message = \"failed to update request\"\n"

func TestLinterAcceptsMarkedQueries(t *testing.T) {
	l := newLinter()
	if err := l.lintSource("good.go", goodSrc); err != nil {
		t.Fatalf("lintSource: %v", err)
	}
	if v := l.violations(); len(v) != 0 {
		t.Fatalf("violations = %+v, want none", v)
	}
}

func TestLinterFlagsMissingMarker(t *testing.T) {
	src := "package q\n\nconst QBad = `SELECT id FROM analysis_requests`\n"
	l := newLinter()
	if err := l.lintSource("bad.go", src); err != nil {
		t.Fatalf("lintSource: %v", err)
	}
	v := l.violations()
	if len(v) != 1 || v[0].name != "QBad" || v[0].line != 3 {
		t.Fatalf("violations = %+v", v)
	}
}

func TestLinterFlagsReusedMarker(t *testing.T) {
	dup := "package q\n\nconst QTwo = `--sql 0f4c2d9e-5b1a-4c3e-9d7f-1a2b3c4d5e6f\nUPDATE t SET x = 1`\n"
	l := newLinter()
	if err := l.lintSource("a.go", goodSrc); err != nil {
		t.Fatalf("lintSource: %v", err)
	}
	if err := l.lintSource("b.go", dup); err != nil {
		t.Fatalf("lintSource: %v", err)
	}
	v := l.violations()
	if len(v) != 1 || v[0].name != "QTwo" || !strings.Contains(v[0].message, "QOne") {
		t.Fatalf("violations = %+v", v)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("\n  --sql abc \nSELECT"); got != "--sql abc" {
		t.Fatalf("firstLine = %q", got)
	}
}
