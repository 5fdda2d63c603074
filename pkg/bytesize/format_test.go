package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"just under a KB", 1023, "1023 B"},
		{"whole KB", 1024, "1 KB"},
		{"fractional KB", 1536, "1.5 KB"},
		{"whole MB", 536870912, "512 MB"},
		{"fractional GB", 1610612736, "1.5 GB"},
		{"TB", 1099511627776, "1 TB"},
		{"negative", -1, "-1 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.bytes))
		})
	}
}
