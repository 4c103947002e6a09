package serialize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name      string    `json:"name"`
	StartedAt Timestamp `json:"started_at"`
}

func TestTimestamp_RoundTripsAtMillisecondPrecision(t *testing.T) {
	in := time.Date(2026, 3, 5, 10, 30, 0, 123456789, time.FixedZone("PST", -8*3600))
	s := sample{Name: "step-1", StartedAt: Timestamp(in)}

	blob, err := Encode(s)
	require.NoError(t, err)
	assert.Contains(t, string(blob), "2026-03-05T18:30:00.123Z")

	var out sample
	require.NoError(t, Decode(blob, &out))
	assert.Equal(t, in.UTC().Truncate(time.Millisecond), out.StartedAt.Time())
}

func TestTimestamp_ToleratesRFC3339Nano(t *testing.T) {
	var ts Timestamp
	require.NoError(t, Decode([]byte(`"2026-03-05T18:30:00.123456789Z"`), &ts))
	assert.Equal(t, 2026, ts.Time().Year())
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	type payload struct {
		Steps []string `json:"steps"`
	}
	in := payload{Steps: []string{"a", "b"}}
	blob, err := Encode(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, Decode(blob, &out))
	assert.Equal(t, in, out)
}

func TestDecode_InvalidJSONReturnsError(t *testing.T) {
	var out sample
	err := Decode([]byte("{not json"), &out)
	assert.Error(t, err)
}
