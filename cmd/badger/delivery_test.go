package main

import (
	"os"
	"path/filepath"
	"testing"

	"badgerline/internal/domain"
)

func TestParseRequirement(t *testing.T) {
	cases := []struct {
		raw     string
		typ     domain.RequirementType
		numeric bool
		target  float64
		unit    string
	}{
		{raw: "step-count:10000:steps", typ: domain.RequirementStepCount, numeric: true, target: 10000, unit: "steps"},
		{raw: "photo", typ: domain.RequirementPhoto},
		{raw: "distance:5.5", typ: domain.RequirementDistance, numeric: true, target: 5.5},
	}
	for _, tc := range cases {
		req, err := parseRequirement(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if req.Type != tc.typ || req.Unit != tc.unit {
			t.Fatalf("%s: got %+v", tc.raw, req)
		}
		v, ok := req.Target.Numeric()
		if ok != tc.numeric || v != tc.target {
			t.Fatalf("%s: target %v %v", tc.raw, v, ok)
		}
	}
	if _, err := parseRequirement(":10"); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestParseValueFallsBackToText(t *testing.T) {
	if s, ok := parseValue("coffee").Text(); !ok || s != "coffee" {
		t.Fatalf("expected text value, got %q %v", s, ok)
	}
	if n, ok := parseValue("5").Numeric(); !ok || n != 5 {
		t.Fatalf("expected numeric value, got %v %v", n, ok)
	}
}

func TestReadFileDetectsContentType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proof.PNG")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := readFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Name != "proof.PNG" || f.ContentType != "image/png" || string(f.Data) != "png" {
		t.Fatalf("unexpected file %+v", f)
	}
}
