package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresent_TagsNonFinite(t *testing.T) {
	assert.Equal(t, ValuePresent, Present(1.5).State)
	assert.Equal(t, ValueIndeterminate, Present(math.NaN()).State)
	assert.Equal(t, ValueIndeterminate, Present(math.Inf(1)).State)
	assert.Equal(t, ValueIndeterminate, Present(math.Inf(-1)).State)
}

func TestValue_Arithmetic(t *testing.T) {
	assert.Equal(t, Present(3), Present(5).Sub(Present(2)))
	assert.True(t, Present(5).Sub(Absent()).IsAbsent())
	assert.True(t, Absent().Sub(Present(5)).IsAbsent())

	q := Present(1).Div(Present(0))
	assert.True(t, q.IsIndeterminate())
	assert.True(t, math.IsInf(q.Number, 1))

	v, ok := Present(0).Div(Present(0)).Float64()
	assert.False(t, ok)
	assert.True(t, math.IsNaN(v))
}

func TestValue_JSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"absent", Absent(), `null`},
		{"present", Present(0.05), `0.05`},
		{"zero", Present(0), `0`},
		{"nan", Present(math.NaN()), `"NaN"`},
		{"positive infinity", Present(math.Inf(1)), `"+Inf"`},
		{"negative infinity", Present(math.Inf(-1)), `"-Inf"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))

			var back Value
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.value.State, back.State)
		})
	}
}

func TestValue_UnmarshalRejectsGarbage(t *testing.T) {
	var v Value
	assert.Error(t, json.Unmarshal([]byte(`"fast"`), &v))
	assert.Error(t, json.Unmarshal([]byte(`true`), &v))
}

func TestSummary_String(t *testing.T) {
	s := Summary{Min: 0.1, Max: 0.5, Avg: 0.8 / 3, Count: 3}
	assert.Equal(t, "[Avg: 0.266] [Min: 0.1] [Max: 0.5]", s.String())
}

func TestRawRecord_StreamIDAndKind(t *testing.T) {
	assert.Equal(t, NoRID, RawRecord{}.StreamID())
	assert.Equal(t, StreamID("h"), RawRecord{RID: "h"}.StreamID())
	assert.Equal(t, MediaKindNone, RawRecord{}.MediaKind())
	assert.Equal(t, MediaKindVideo, RawRecord{Kind: "video"}.MediaKind())
}

func TestPartitions(t *testing.T) {
	got := Partitions()
	require.Len(t, got, 4)
	assert.Equal(t, "outbound-audio", got[0].String())
	assert.Equal(t, MetricKey("inbound-video-loss"), LossMetricKey(got[3]))
}
