package internal

import (
	"strings"
	"testing"
)

func TestGenerateCode(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{name: "default length", length: DefaultCodeLength},
		{name: "short", length: 1},
		{name: "long", length: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := GenerateCode(tt.length)
			if err != nil {
				t.Fatalf("GenerateCode: %v", err)
			}
			if len(code) != tt.length {
				t.Errorf("len(code) = %d, want %d", len(code), tt.length)
			}
			for _, c := range code {
				if !strings.ContainsRune(alphabet, c) {
					t.Errorf("code %q contains %q outside the alphabet", code, c)
				}
			}
		})
	}
}

func TestAlphabetIsMixedCaseAlphanumeric(t *testing.T) {
	if len(alphabet) != base {
		t.Fatalf("alphabet has %d symbols, want %d", len(alphabet), base)
	}
	seen := make(map[rune]bool)
	for _, c := range alphabet {
		if seen[c] {
			t.Errorf("duplicate symbol %q", c)
		}
		seen[c] = true
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			t.Errorf("symbol %q is not alphanumeric", c)
		}
	}
	for _, ambiguous := range "0OIl" {
		if seen[ambiguous] {
			t.Errorf("ambiguous symbol %q present", ambiguous)
		}
	}
}

func TestNewCodeGeneratorDistinctCodes(t *testing.T) {
	gen := NewCodeGenerator(0)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		code, err := gen()
		if err != nil {
			t.Fatalf("gen: %v", err)
		}
		if len(code) != DefaultCodeLength {
			t.Fatalf("len(code) = %d, want %d", len(code), DefaultCodeLength)
		}
		seen[code] = true
	}
	// 1000 draws from ~3.8e10 values; a handful of repeats would mean a broken source.
	if len(seen) < 995 {
		t.Errorf("only %d distinct codes out of 1000", len(seen))
	}
}

func TestDimensionValid(t *testing.T) {
	for _, d := range []Dimension{DimensionReferrer, DimensionLocation, DimensionOperatingSystem, DimensionDeviceType, DimensionBrowser} {
		if !d.Valid() {
			t.Errorf("%q should be valid", d)
		}
	}
	if Dimension("client_address; DROP TABLE visits").Valid() {
		t.Error("arbitrary column accepted")
	}
}
