package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseReading(t *testing.T) {
	reading, err := ParseReading([]byte(`{"patientId":42,"bpm":72,"timestamp":"2026-08-23T10:00:00Z"}`))
	require.NoError(t, err)
	require.Equal(t, int64(42), reading.PatientID)
	require.Equal(t, 72, reading.BPM)
	require.Equal(t, time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC), reading.RecordedAt)
}

func TestParseReading_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"corrupt json", `{not json`},
		{"bad timestamp", `{"patientId":42,"bpm":72,"timestamp":"23/08/2026"}`},
		{"bpm out of range", `{"patientId":42,"bpm":500,"timestamp":"2026-08-23T10:00:00Z"}`},
		{"missing patient", `{"bpm":72,"timestamp":"2026-08-23T10:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReading([]byte(tt.payload))
			require.Error(t, err)
		})
	}
}
