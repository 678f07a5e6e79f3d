package stopwords

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnglish(t *testing.T) {
	l := English()
	assert.Greater(t, l.Len(), 200)
	for _, w := range []string{"the", "The", "was", "is", "of"} {
		assert.True(t, l.IsStop(w), w)
	}
	for _, w := range []string{"food", "great", "slow", "#", ""} {
		assert.False(t, l.IsStop(w), w)
	}
}

func TestAddRemove(t *testing.T) {
	l := New([]string{"Foo"})
	assert.True(t, l.IsStop("foo"))
	l.Add("bar")
	assert.True(t, l.IsStop("BAR"))
	l.Remove("FOO")
	assert.False(t, l.IsStop("foo"))
	assert.Equal(t, 1, l.Len())
	assert.False(t, None{}.IsStop("the"))
}
