package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"0", 0},
		{"100", 100},
		{"100B", 100},
		{"1K", 1024},
		{"1k", 1024},
		{"10KB", 10 * 1024},
		{"10KiB", 10 * 1024},
		{"100M", 100 * 1024 * 1024},
		{"100MB", 100 * 1024 * 1024},
		{"1G", 1 << 30},
		{"2T", 2 << 40},
		{"1.5M", 1536 * 1024},
		{" 64K ", 64 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSizeInvalid(t *testing.T) {
	for _, input := range []string{"", "B", "K", "abc", "-1", "-2M", "1iB", "1X"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			assert.Error(t, err)
		})
	}
}
