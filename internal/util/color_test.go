package util

import (
	"strings"
	"testing"
)

func TestDarkenColor(t *testing.T) {
	tests := []struct {
		name    string
		hex     string
		percent int
		want    string
	}{
		{"half", "#FF8040", 50, "#7F4020"},
		{"none", "#102030", 0, "#102030"},
		{"full", "#FFFFFF", 100, "#000000"},
		{"invalid stays", "nope", 10, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DarkenColor(tt.hex, tt.percent); got != tt.want {
				t.Errorf("DarkenColor(%q, %d) = %q, want %q", tt.hex, tt.percent, got, tt.want)
			}
		})
	}
}

func TestGenerateThemeCSS(t *testing.T) {
	css := GenerateThemeCSS("#D946EF", "#F43F5E", "#FBBF24")
	for _, want := range []string{"--from:#D946EF", "--via:#F43F5E", "--to:#FBBF24", "--button-hover:"} {
		if !strings.Contains(css, want) {
			t.Errorf("GenerateThemeCSS() = %q, missing %q", css, want)
		}
	}
}
