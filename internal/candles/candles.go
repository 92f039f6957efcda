// Package candles implements the blow-to-extinguish state machine: candle
// rows, the microphone blow detector, score aggregation and the per-room
// session that ties them to a row store.
package candles

// Candles is an ordered row of candles; true means lit.
type Candles []bool

// New returns n lit candles.
func New(n int) Candles {
	c := make(Candles, max(n, 0))
	for i := range c {
		c[i] = true
	}
	return c
}

// LitCount returns the number of lit candles.
func (c Candles) LitCount() int {
	n := 0
	for _, lit := range c {
		if lit {
			n++
		}
	}
	return n
}

// ExtinguishNext puts out the lowest-indexed lit candle and returns its index.
// It reports false and leaves c unchanged when no candle is lit.
func (c Candles) ExtinguishNext() (int, bool) {
	for i, lit := range c {
		if lit {
			c[i] = false
			return i, true
		}
	}
	return -1, false
}

// NextLit returns the index ExtinguishNext would put out, or -1.
func (c Candles) NextLit() int {
	for i, lit := range c {
		if lit {
			return i
		}
	}
	return -1
}

// Relight lights every candle.
func (c Candles) Relight() {
	for i := range c {
		c[i] = true
	}
}

// Clone returns an independent copy of c.
func (c Candles) Clone() Candles {
	out := make(Candles, len(c))
	copy(out, c)
	return out
}

// Reconcile returns the candle row implied by count recorded blows: the first
// count candles are out and the rest are lit. The input is not modified.
// Applying Reconcile again with the same count yields the same row.
func Reconcile(c Candles, count int) Candles {
	out := make(Candles, len(c))
	for i := range out {
		out[i] = i >= count
	}
	return out
}
