package sipfax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortPoolSequential(t *testing.T) {
	pool, err := newPortPool(20000, 20006)
	require.NoError(t, err)

	var got []int
	for i := 0; i < 4; i++ {
		port, err := pool.allocate()
		require.NoError(t, err)
		got = append(got, port)
	}
	assert.Equal(t, []int{20000, 20002, 20004, 20006}, got)
	assert.Equal(t, 4, pool.inUse())

	_, err = pool.allocate()
	assert.Error(t, err)

	pool.release(20002)
	port, err := pool.allocate()
	require.NoError(t, err)
	assert.Equal(t, 20002, port)
}

func TestPortPoolOddMin(t *testing.T) {
	pool, err := newPortPool(30001, 30010)
	require.NoError(t, err)
	port, err := pool.allocate()
	require.NoError(t, err)
	assert.Equal(t, 30002, port)
}

func TestPortPoolInvalidRange(t *testing.T) {
	for _, r := range [][2]int{{0, 10}, {10, 10}, {20, 10}} {
		_, err := newPortPool(r[0], r[1])
		assert.Error(t, err, r)
	}
}
