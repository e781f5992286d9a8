package ids

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	id := New(SessionPrefix)
	assert.True(t, HasPrefix(id, SessionPrefix))
	assert.False(t, HasPrefix(id, MessagePrefix))
	assert.Len(t, id, len("s_")+26)
	assert.Equal(t, strings.ToLower(id), id)
}

func TestNewIsMonotonic(t *testing.T) {
	generated := make([]string, 1000)
	for i := range generated {
		generated[i] = New(RunPrefix)
	}

	assert.True(t, sort.StringsAreSorted(generated))

	seen := make(map[string]struct{}, len(generated))
	for _, id := range generated {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, len(generated))
}
