package indicator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMAMA(t *testing.T) {
	t.Run("flat", func(t *testing.T) {
		m := NewMAMADefault[int64](50)
		for range 100 {
			require.Equal(t, int64(100), m.Update(100))
		}
		require.True(t, m.Valid())
	})

	t.Run("ramp", func(t *testing.T) {
		m := NewMAMA[int64](50, 0.3, 0.05)
		for i := int64(0); i <= 100; i++ {
			v := m.Update(i)
			require.True(t, i/2 <= v && v <= i, "%d: %d", i, v)
		}
	})

	t.Run("alternating", func(t *testing.T) {
		m := NewMAMA[int64](50, 0.3, 0.05)
		for i := range 100 {
			for _, sample := range []int64{0, 100} {
				v := m.Update(sample)
				if i > 50 {
					require.True(t, 40 <= v && v <= 60, "%d: %d", i, v)
				}
			}
		}
	})

	t.Run("reset", func(t *testing.T) {
		m := NewMAMA[int64](4, 0.3, 0.05)
		for range 10 {
			m.Update(100)
		}
		require.True(t, m.Valid())
		m.Reset()
		require.False(t, m.Valid())
		require.Zero(t, m.Last())
		require.Equal(t, int64(7), m.Update(7))
		require.Equal(t, int64(4), m.InitPeriod())
	})
}
