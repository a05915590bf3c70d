package chat

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorAssigner_StablePerSender(t *testing.T) {
	c := newColorAssigner(rand.New(rand.NewPCG(7, 7)), nil)

	first := c.Color("alice")
	assert.Contains(t, Palette, first)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, c.Color("alice"))
	}
	assert.Equal(t, 1, c.Len())
}

func TestColorAssigner_CustomPalette(t *testing.T) {
	c := NewColorAssigner("red")

	assert.Equal(t, "red", c.Color("alice"))
	assert.Equal(t, "red", c.Color("bob"))
	assert.Equal(t, 2, c.Len())
}

func TestColorAssigner_Concurrent(t *testing.T) {
	c := NewColorAssigner()
	var wg sync.WaitGroup
	results := make([][]string, 8)
	for w := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				results[w] = append(results[w], c.Color(fmt.Sprintf("user-%d", i)))
			}
		}()
	}
	wg.Wait()

	for w := 1; w < len(results); w++ {
		assert.Equal(t, results[0], results[w])
	}
	assert.Equal(t, 50, c.Len())
}
