// Package greeting derives the presentation state of a birthday room from
// its share link: honoree names, room name, sender, theme and wishes.
package greeting

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// RoomPrefix starts every room name.
const RoomPrefix = "birthday-"

// Query parameters of a share link.
const (
	ParamName  = "name"
	ParamTheme = "theme"
	ParamFrom  = "from"
)

// Theme is a three stop background gradient.
type Theme struct {
	Name string `json:"name"`
	From string `json:"from"`
	Via  string `json:"via"`
	To   string `json:"to"`
}

// CSS renders the theme as custom properties for the page.
func (t Theme) CSS() string {
	return util.GenerateThemeCSS(t.From, t.Via, t.To)
}

// Themes are the selectable gradients, addressed by index.
var Themes = []Theme{
	{Name: "sunset", From: "#d946ef", Via: "#f43f5e", To: "#fbbf24"},
	{Name: "lagoon", From: "#6366f1", Via: "#0ea5e9", To: "#34d399"},
	{Name: "candy", From: "#ec4899", Via: "#a855f7", To: "#38bdf8"},
	{Name: "meadow", From: "#10b981", Via: "#a3e635", To: "#facc15"},
	{Name: "aurora", From: "#0ea5e9", Via: "#22d3ee", To: "#8b5cf6"},
}

// Wishes are the preset wishes shown under the cake.
var Wishes = []string{
	"May your laughter be the brightest thing in the world today ✨",
	"This year you are scheduled to be even happier than last year!",
	"I'll cut the cake, you make the wish 🎂",
	"Health, luck and love, all three at once 💥",
	"Our day is prettier because you are in it 💗",
	"Let's start another crazy project together this year 😆",
}

// ParseNames splits a comma separated list of honoree names. Names are
// trimmed and empty names dropped; defaults is returned when nothing is left.
func ParseNames(param string, defaults []string) []string {
	var names []string
	for n := range strings.SplitSeq(param, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return append([]string(nil), defaults...)
	}
	return names
}

// Room returns the room name shared by everyone celebrating names.
func Room(names []string) string {
	return RoomPrefix + strings.Join(names, "&")
}

// ThemeIndex parses a theme parameter and wraps it into the theme list.
// Anything that is not an integer selects the first theme.
func ThemeIndex(param string) int {
	i, err := strconv.Atoi(strings.TrimSpace(param))
	if err != nil {
		return 0
	}
	return WrapTheme(i)
}

// WrapTheme maps any integer onto a valid theme index.
func WrapTheme(i int) int {
	n := len(Themes)
	return ((i % n) + n) % n
}

// NextWish returns the index of a different wish than current, using rnd as
// a source of uniform values in [0, 1).
func NextWish(current int, rnd func() float64) int {
	n := len(Wishes)
	if n < 2 {
		return 0
	}
	step := max(int(math.Ceil(rnd()*float64(n-1))), 1)
	return (current + step) % n
}

// Wish returns the wish at i, wrapped into range.
func Wish(i int) string {
	n := len(Wishes)
	return Wishes[((i%n)+n)%n]
}

// ShareURL returns base with the name, theme and from parameters set.
// Other parameters of base are kept.
func ShareURL(base string, names []string, theme int, from string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", util.WrapError("parse base URL", err)
	}
	q := u.Query()
	q.Set(ParamName, strings.Join(names, ","))
	q.Set(ParamTheme, strconv.Itoa(WrapTheme(theme)))
	q.Set(ParamFrom, from)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Greeting is the resolved state of a share link.
type Greeting struct {
	Names []string `json:"names"`
	Room  string   `json:"room"`
	From  string   `json:"from"`
	Theme int      `json:"theme"`
}

// FromQuery resolves a share link's query, falling back to the defaults for
// missing names and sender.
func FromQuery(q url.Values, defaultNames []string, defaultFrom string) Greeting {
	names := ParseNames(q.Get(ParamName), defaultNames)
	from := strings.TrimSpace(q.Get(ParamFrom))
	if from == "" {
		from = defaultFrom
	}
	return Greeting{
		Names: names,
		Room:  Room(names),
		From:  from,
		Theme: ThemeIndex(q.Get(ParamTheme)),
	}
}
