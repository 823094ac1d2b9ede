package passwords

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"abc", "abc", 1},
		{"john", "jonh123!", 0.5},
		{"abcd", "bcda", 0.75},
		{"johnsmith", "johnsmyth!23", 16.0 / 21.0},
		{"alice", "x9!qwerty#lm2z", 2.0 / 19.0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestLongestMatch_PrefersEarliest(t *testing.T) {
	i, j, k := longestMatch([]rune("abxab"), []rune("ab"))
	assert.Equal(t, 0, i)
	assert.Equal(t, 0, j)
	assert.Equal(t, 2, k)
}
