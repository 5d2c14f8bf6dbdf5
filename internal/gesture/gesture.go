// Package gesture classifies hand landmark frames into the fixed set of
// gesture triggers that unlock AR messages.
package gesture

import (
	"fmt"
	"strings"
)

// Gesture is one of the closed set of unlock gestures. The zero value means
// no gesture was recognised.
type Gesture string

const (
	None     Gesture = ""
	Wave     Gesture = "WAVE"
	Clap     Gesture = "CLAP"
	Peace    Gesture = "PEACE"
	ThumbsUp Gesture = "THUMBS_UP"
)

var all = []Gesture{Wave, Clap, Peace, ThumbsUp}

var labels = map[Gesture]string{
	Wave:     "Wave 👋",
	Clap:     "Clap 👏",
	Peace:    "Peace ✌️",
	ThumbsUp: "Thumbs Up 👍",
}

// All returns the selectable gesture triggers in display order.
func All() []Gesture {
	out := make([]Gesture, len(all))
	copy(out, all)
	return out
}

// Parse converts a label such as "thumbs_up" into a Gesture.
func Parse(s string) (Gesture, error) {
	g := Gesture(strings.ToUpper(strings.TrimSpace(s)))
	if g.Valid() {
		return g, nil
	}
	return None, fmt.Errorf("unknown gesture trigger: %q", s)
}

// MustParse is Parse for values that are known at compile time.
// It panics on anything outside the closed set.
func MustParse(s string) Gesture {
	g, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return g
}

// Valid reports whether g is one of the selectable triggers. None is not valid.
func (g Gesture) Valid() bool {
	_, ok := labels[g]
	return ok
}

func (g Gesture) String() string {
	return string(g)
}

// Label returns the human readable name shown in the trigger picker.
func (g Gesture) Label() string {
	if l, ok := labels[g]; ok {
		return l
	}
	return ""
}

// MarshalText implements encoding.TextMarshaler.
func (g Gesture) MarshalText() ([]byte, error) {
	return []byte(g), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input decodes to None.
func (g *Gesture) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*g = None
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
