package trend_test

import (
	"errors"
	"testing"

	"github.com/alejandrodnm/papertrader/internal/domain"
	"github.com/alejandrodnm/papertrader/internal/trend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_FlatUntilWindowFull(t *testing.T) {
	d := trend.NewDefault()

	for i := 1; i <= 19; i++ {
		got := d.Update(float64(100 + i))
		assert.Equal(t, domain.DirectionFlat, got, "call %d", i)
	}
	assert.False(t, d.Ready())

	assert.Equal(t, domain.DirectionUp, d.Update(200))
	assert.True(t, d.Ready())
}

func TestUpdate_Down(t *testing.T) {
	d := trend.NewDefault()

	var got domain.Direction
	for i := 0; i < 20; i++ {
		got = d.Update(float64(500 - i))
	}
	assert.Equal(t, domain.DirectionDown, got)
}

func TestUpdate_FlatOnConstantPrice(t *testing.T) {
	d := trend.NewDefault()

	var got domain.Direction
	for i := 0; i < 30; i++ {
		got = d.Update(250)
	}
	assert.Equal(t, domain.DirectionFlat, got)
}

func TestUpdate_WindowRollsOver(t *testing.T) {
	d, err := trend.New(2, 4)
	require.NoError(t, err)

	for _, p := range []float64{10, 10, 10} {
		assert.Equal(t, domain.DirectionFlat, d.Update(p))
	}
	assert.Equal(t, domain.DirectionUp, d.Update(14))  // short 12, long 11
	assert.Equal(t, domain.DirectionFlat, d.Update(6)) // 10,10,14,6: short 10, long 10
	assert.Equal(t, domain.DirectionUp, d.Update(20))  // 10,14,6,20: short 13, long 12.5
	assert.Equal(t, 4, d.Samples())
}

func TestUpdate_FlickersNearEquality(t *testing.T) {
	d, err := trend.New(1, 3)
	require.NoError(t, err)

	d.Update(100)
	d.Update(100)
	assert.Equal(t, domain.DirectionUp, d.Update(101))
	assert.Equal(t, domain.DirectionDown, d.Update(100))
	assert.Equal(t, domain.DirectionUp, d.Update(101))
}

func TestNew_RejectsBadWindows(t *testing.T) {
	for _, w := range [][2]int{{0, 20}, {5, 0}, {21, 20}, {-1, 5}} {
		_, err := trend.New(w[0], w[1])
		require.Error(t, err, "short=%d long=%d", w[0], w[1])
		assert.True(t, errors.Is(err, domain.ErrConfig))
	}
}

func TestReset(t *testing.T) {
	d := trend.NewDefault()
	for i := 0; i < 25; i++ {
		d.Update(float64(i))
	}
	require.True(t, d.Ready())

	d.Reset()
	assert.Equal(t, 0, d.Samples())
	assert.Equal(t, domain.DirectionFlat, d.Update(1000))
}
