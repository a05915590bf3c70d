package chat

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Palette is the set of avatar colors handed out to senders.
var Palette = []string{
	"#2196F3", "#32c787", "#00BCD4", "#ff5652",
	"#ffc107", "#ff85af", "#FF9800", "#39bbb0",
}

// ColorAssigner gives each sender a color drawn at random from a palette on
// first sight and returns the same color for that sender afterwards. The
// cache lives as long as the process.
type ColorAssigner struct {
	mu      sync.Mutex
	palette []string
	rng     *rand.Rand
	colors  map[string]string
}

// NewColorAssigner creates an assigner over palette, or Palette when empty.
func NewColorAssigner(palette ...string) *ColorAssigner {
	seed := uint64(time.Now().UnixNano())
	return newColorAssigner(rand.New(rand.NewPCG(seed, seed>>1)), palette)
}

func newColorAssigner(rng *rand.Rand, palette []string) *ColorAssigner {
	if len(palette) == 0 {
		palette = Palette
	}
	return &ColorAssigner{
		palette: append([]string(nil), palette...),
		rng:     rng,
		colors:  make(map[string]string),
	}
}

// Color returns the color for sender.
func (c *ColorAssigner) Color(sender string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if color, ok := c.colors[sender]; ok {
		return color
	}
	color := c.palette[c.rng.IntN(len(c.palette))]
	c.colors[sender] = color
	return color
}

// Len returns the number of senders seen.
func (c *ColorAssigner) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.colors)
}
