package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForceSend_DropsOldestWhenFull(t *testing.T) {
	rc := New[int](2)

	assert.False(t, rc.ForceSend(1))
	assert.False(t, rc.ForceSend(2))
	assert.True(t, rc.ForceSend(3))

	assert.Equal(t, 2, <-rc.C())
	assert.Equal(t, 3, <-rc.C())
}

func TestCloseEndsRange(t *testing.T) {
	rc := New[string](4)
	rc.ForceSend("a")
	rc.ForceSend("b")
	rc.Close()

	var got []string
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestNew_RejectsNonPositiveCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
}
