package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-catalog/internal/domain"
)

func TestValidateOutputFormat(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{name: "empty ok", output: "", wantErr: false},
		{name: "table ok", output: "table", wantErr: false},
		{name: "json ok", output: "json", wantErr: false},
		{name: "yaml rejected", output: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOutputFormat(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []string{"tier", "step"}, [][]string{
		{"0", "data://meadow/who/2024-01-01/gho"},
		{"10", "\x1b[32mSAVED\x1b[0m"},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "TIER  STEP", lines[0])
	assert.Equal(t, "0     data://meadow/who/2024-01-01/gho", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "10    "), "colour codes do not count towards width")

	buf.Reset()
	PrintTable(&buf, nil, [][]string{{"x"}})
	assert.Empty(t, buf.String())
}

func TestVisibleLen(t *testing.T) {
	assert.Equal(t, 5, visibleLen("SAVED"))
	assert.Equal(t, 5, visibleLen("\x1b[32mSAVED\x1b[0m"))
	assert.Equal(t, 0, visibleLen(""))
}

func TestColorStatus_NotTerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, domain.StepStatusFailed, colorStatus(&buf, domain.StepStatusFailed))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.235s", formatDuration(1234567*time.Microsecond))
	assert.Equal(t, "500µs", formatDuration(500*time.Microsecond))
}
