package ref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/cellsync/internal/fault"
	"github.com/vk/cellsync/internal/zone"
)

// requireFault asserts that fn panics with an invariant violation.
func requireFault(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected an invariant-violation panic")
		_, ok := fault.AsInvariant(r)
		require.True(t, ok, "panic value is not a fault: %v", r)
	}()
	fn()
}

func TestConstant(t *testing.T) {
	t.Run("holds its value", func(t *testing.T) {
		c := NewConstant("answer", cty.Number, cty.NumberIntVal(42))
		assert.Equal(t, "answer", c.Name())
		assert.True(t, c.Type().Equals(cty.Number))
		assert.True(t, cty.NumberIntVal(42).RawEquals(c.Value()))
	})

	t.Run("observe never fires", func(t *testing.T) {
		z := zone.New()
		c := NewConstant("label", cty.String, cty.StringVal("fixed"))
		c.Observe(z.Forever(), zone.NewObserver("obs", func() {
			t.Fatal("observer on a constant fired")
		}))
		z.Drain()
	})

	t.Run("mismatched initial value is a fault", func(t *testing.T) {
		requireFault(t, func() { NewConstant("bad", cty.Bool, cty.StringVal("no")) })
	})
}

func TestBoxedSet(t *testing.T) {
	t.Run("notifies on change", func(t *testing.T) {
		z := zone.New()
		b := NewBoxed(z, "counter", cty.Number, cty.NumberIntVal(0))
		runs := 0
		b.Observe(z.Forever(), zone.NewObserver("obs", func() { runs++ }))

		b.Set(cty.NumberIntVal(1))
		z.Drain()
		assert.Equal(t, 1, runs)
		assert.True(t, cty.NumberIntVal(1).RawEquals(b.Value()))
	})

	t.Run("setting the current value is a no-op", func(t *testing.T) {
		z := zone.New()
		b := NewBoxed(z, "flag", cty.Bool, cty.True)
		runs := 0
		b.Observe(z.Forever(), zone.NewObserver("obs", func() { runs++ }))

		b.Set(cty.True)
		z.Drain()
		assert.Equal(t, 0, runs)
	})

	t.Run("multiple writes collapse to one notification per drain", func(t *testing.T) {
		z := zone.New()
		b := NewBoxed(z, "counter", cty.Number, cty.NumberIntVal(0))
		runs := 0
		b.Observe(z.Forever(), zone.NewObserver("obs", func() { runs++ }))

		b.Set(cty.NumberIntVal(1))
		b.Set(cty.NumberIntVal(2))
		b.Set(cty.NumberIntVal(3))
		z.Drain()
		assert.Equal(t, 1, runs)
		assert.True(t, cty.NumberIntVal(3).RawEquals(b.Value()))
	})

	t.Run("type mismatch is a fault", func(t *testing.T) {
		z := zone.New()
		b := NewBoxed(z, "flag", cty.Bool, cty.False)
		requireFault(t, func() { b.Set(cty.NumberIntVal(1)) })
	})

	t.Run("finishing the lifespan releases the registration", func(t *testing.T) {
		z := zone.New()
		b := NewBoxed(z, "counter", cty.Number, cty.NumberIntVal(0))
		ls := z.NewLifespan()
		runs := 0
		b.Observe(ls, zone.NewObserver("obs", func() { runs++ }))

		b.Set(cty.NumberIntVal(1))
		z.Drain()
		require.Equal(t, 1, runs)

		ls.Finish()
		z.Drain()
		b.Set(cty.NumberIntVal(2))
		z.Drain()
		assert.Equal(t, 1, runs)
	})
}

func TestComputed(t *testing.T) {
	t.Run("computes lazily and caches", func(t *testing.T) {
		z := zone.New()
		computes := 0
		c := NewComputed(z, "derived", cty.Number, func() cty.Value {
			computes++
			return cty.NumberIntVal(7)
		})

		assert.Equal(t, 0, computes)
		assert.True(t, cty.NumberIntVal(7).RawEquals(c.Value()))
		assert.True(t, cty.NumberIntVal(7).RawEquals(c.Value()))
		assert.Equal(t, 1, computes)
	})

	t.Run("invalidate discards the cache and notifies once", func(t *testing.T) {
		z := zone.New()
		computes := 0
		c := NewComputed(z, "derived", cty.Number, func() cty.Value {
			computes++
			return cty.NumberIntVal(int64(computes))
		})
		runs := 0
		c.Observe(z.Forever(), zone.NewObserver("obs", func() { runs++ }))

		_ = c.Value()
		c.Invalidate()
		c.Invalidate() // idempotent: already invalid
		z.Drain()
		assert.Equal(t, 1, runs)

		assert.True(t, cty.NumberIntVal(2).RawEquals(c.Value()))
		assert.Equal(t, 2, computes)
	})

	t.Run("dependency change cascades through the graph", func(t *testing.T) {
		z := zone.New()
		base := NewBoxed(z, "base", cty.Number, cty.NumberIntVal(1))
		doubled := NewComputed(z, "doubled", cty.Number, func() cty.Value {
			v, _ := base.Value().AsBigFloat().Int64()
			return cty.NumberIntVal(v * 2)
		})
		doubled.DependsOn(z.Forever(), base)

		quadrupled := NewComputed(z, "quadrupled", cty.Number, func() cty.Value {
			v, _ := doubled.Value().AsBigFloat().Int64()
			return cty.NumberIntVal(v * 2)
		})
		quadrupled.DependsOn(z.Forever(), doubled)

		require.True(t, cty.NumberIntVal(4).RawEquals(quadrupled.Value()))

		base.Set(cty.NumberIntVal(5))
		z.Drain()
		assert.True(t, cty.NumberIntVal(20).RawEquals(quadrupled.Value()))
	})

	t.Run("compute result failing the declared type is a fault", func(t *testing.T) {
		z := zone.New()
		c := NewComputed(z, "broken", cty.Bool, func() cty.Value {
			return cty.StringVal("not a bool")
		})
		requireFault(t, func() { c.Value() })
	})
}

func TestDependsOnCycleDetection(t *testing.T) {
	t.Run("a cell depends on itself", func(t *testing.T) {
		z := zone.New()
		c := NewComputed(z, "self", cty.Number, func() cty.Value { return cty.Zero })
		requireFault(t, func() { c.DependsOn(z.Forever(), c) })
	})

	t.Run("transitive cycle is rejected", func(t *testing.T) {
		z := zone.New()
		mk := func(name string) *Computed {
			return NewComputed(z, name, cty.Number, func() cty.Value { return cty.Zero })
		}
		a, b, c := mk("a"), mk("b"), mk("c")

		a.DependsOn(z.Forever(), b)
		b.DependsOn(z.Forever(), c)
		requireFault(t, func() { c.DependsOn(z.Forever(), a) })
	})

	t.Run("diamond dependencies are allowed", func(t *testing.T) {
		z := zone.New()
		base := NewBoxed(z, "base", cty.Number, cty.Zero)
		mk := func(name string) *Computed {
			return NewComputed(z, name, cty.Number, func() cty.Value { return cty.Zero })
		}
		left, right, top := mk("left"), mk("right"), mk("top")

		left.DependsOn(z.Forever(), base)
		right.DependsOn(z.Forever(), base)
		top.DependsOn(z.Forever(), left)
		top.DependsOn(z.Forever(), right)
	})
}
