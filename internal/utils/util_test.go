package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrettyTime(t *testing.T) {
	assert.Equal(t, "0:05", PrettyTime(5))
	assert.Equal(t, "2:03", PrettyTime(123))
	assert.Equal(t, "1:01:01", PrettyTime(3661))
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"90", 90},
		{"1m30s", 90},
		{"1h", 3600},
		{"2h3m4s", 7384},
		{"garbage", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseDurationString(tt.in), tt.in)
	}
}

func TestShuffleSliceKeepsElements(t *testing.T) {
	a := []int{1, 2, 3, 4, 5}
	ShuffleSlice(a)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, a)
}

func TestEscapeMd(t *testing.T) {
	assert.Equal(t, "a\\*b\\_c", EscapeMd("a*b_c"))
}
