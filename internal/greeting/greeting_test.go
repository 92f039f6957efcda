package greeting

import (
	"net/url"
	"slices"
	"strings"
	"testing"
)

func TestParseNames(t *testing.T) {
	defaults := []string{"Ann", "Bo"}
	tests := []struct {
		param string
		want  []string
	}{
		{"", defaults},
		{" , ,", defaults},
		{"Cy", []string{"Cy"}},
		{" Cy , Di ,,", []string{"Cy", "Di"}},
	}
	for _, tt := range tests {
		if got := ParseNames(tt.param, defaults); !slices.Equal(got, tt.want) {
			t.Errorf("ParseNames(%q) = %v, want %v", tt.param, got, tt.want)
		}
	}

	got := ParseNames("", defaults)
	got[0] = "changed"
	if defaults[0] != "Ann" {
		t.Error("ParseNames() returned the defaults slice itself")
	}
}

func TestRoom(t *testing.T) {
	if got := Room([]string{"Ann", "Bo"}); got != "birthday-Ann&Bo" {
		t.Errorf("Room() = %q", got)
	}
}

func TestThemeIndex(t *testing.T) {
	n := len(Themes)
	tests := map[string]int{
		"":      0,
		"x":     0,
		"2":     2,
		"7":     7 % n,
		"-1":    n - 1,
		" 3 ":   3,
		"99999": 99999 % n,
	}
	for param, want := range tests {
		if got := ThemeIndex(param); got != want {
			t.Errorf("ThemeIndex(%q) = %d, want %d", param, got, want)
		}
	}
}

func TestNextWishAlwaysChanges(t *testing.T) {
	for _, r := range []float64{0, 0.01, 0.5, 0.999} {
		for current := range Wishes {
			next := NextWish(current, func() float64 { return r })
			if next == current {
				t.Errorf("NextWish(%d) with rnd=%v stayed on the same wish", current, r)
			}
			if next < 0 || next >= len(Wishes) {
				t.Errorf("NextWish(%d) = %d out of range", current, next)
			}
		}
	}
	if Wish(-1) != Wishes[len(Wishes)-1] {
		t.Error("Wish(-1) did not wrap")
	}
}

func TestShareURL(t *testing.T) {
	got, err := ShareURL("https://party.example/?lang=en", []string{"Ann", "Bo"}, len(Themes)+1, "Cy")
	if err != nil {
		t.Fatalf("ShareURL() error = %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("name") != "Ann,Bo" || q.Get("theme") != "1" || q.Get("from") != "Cy" || q.Get("lang") != "en" {
		t.Errorf("ShareURL() = %s", got)
	}

	if _, err := ShareURL("://bad", nil, 0, ""); err == nil {
		t.Error("ShareURL() with invalid base succeeded")
	}
}

func TestFromQuery(t *testing.T) {
	q := url.Values{"name": {"Di, Ed"}, "theme": {"3"}}
	g := FromQuery(q, []string{"Ann"}, "Friends")
	if g.Room != "birthday-Di&Ed" || g.From != "Friends" || g.Theme != 3 {
		t.Errorf("FromQuery() = %+v", g)
	}
}

func TestThemeCSS(t *testing.T) {
	css := Themes[0].CSS()
	if !strings.Contains(css, "--from:#d946ef") || !strings.Contains(css, "--to:#fbbf24") {
		t.Errorf("CSS() = %s", css)
	}
}
