package data

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	ts, count, err := ParseLine([]byte("12.5,3"))
	require.NoError(t, err)
	require.Equal(t, 12.5, ts)
	require.Equal(t, int64(3), count)

	ts, count, err = ParseLine([]byte(" 1000 , -7\r"))
	require.NoError(t, err)
	require.Equal(t, 1000.0, ts)
	require.Equal(t, int64(-7), count)
}

func TestParseLineRejectsMalformed(t *testing.T) {
	for _, line := range []string{
		"bad-line",
		"",
		"12.5",
		"12.5,3,4",
		"abc,3",
		"12.5,3.5",
		"12.5,",
	} {
		_, _, err := ParseLine([]byte(line))
		var perr *ProtocolError
		require.True(t, errors.As(err, &perr), "line %q", line)
		require.Equal(t, line, perr.Line)
	}
}

func TestSampleRecord(t *testing.T) {
	s := NewSample(time.Unix(1700000000, 500_000_000), 12.5, 3)
	require.Equal(t, []string{"1700000000.5", "12.5", "3"}, s.Record())
}
