package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funneltrace/api/models"
)

func rows(session string, steps ...string) []models.StepEvent {
	out := make([]models.StepEvent, len(steps))
	for i, s := range steps {
		out[i] = models.StepEvent{SessionID: session, StepName: s, Timestamp: int64(100 * (i + 1))}
	}
	return out
}

func TestSessionizeCollapsesConsecutiveDuplicates(t *testing.T) {
	paths := Sessionize(rows("s1", "A", "A", "B", "B", "A"))

	require.Len(t, paths, 1)
	assert.Equal(t, []string{"A", "B", "A"}, paths[0].Steps)
}

func TestSessionizeSortsByTimestamp(t *testing.T) {
	in := []models.StepEvent{
		{SessionID: "s2", StepName: "Landing", Timestamp: 150},
		{SessionID: "s1", StepName: "Signup", Timestamp: 200},
		{SessionID: "s1", StepName: "Landing", Timestamp: 100},
	}

	paths := Sessionize(in)

	require.Len(t, paths, 2)
	assert.Equal(t, SessionPath{SessionID: "s1", Steps: []string{"Landing", "Signup"}}, paths[0])
	assert.Equal(t, SessionPath{SessionID: "s2", Steps: []string{"Landing"}}, paths[1])
	// input is left untouched
	assert.Equal(t, "s2", in[0].SessionID)
}

func TestSessionizeEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		in   []models.StepEvent
		want []SessionPath
	}{
		{name: "no rows", in: nil, want: nil},
		{
			name: "rows without step names are ignored",
			in: []models.StepEvent{
				{SessionID: "s1", StepName: "", Timestamp: 1},
				{SessionID: "s2", StepName: "A", Timestamp: 1},
			},
			want: []SessionPath{{SessionID: "s2", Steps: []string{"A"}}},
		},
		{
			name: "duplicate delivery of a whole batch",
			in:   append(rows("s1", "A", "B"), rows("s1", "A", "B")...),
			want: []SessionPath{{SessionID: "s1", Steps: []string{"A", "B"}}},
		},
		{
			name: "back navigation keeps the revisit",
			in:   rows("s1", "A", "B", "A", "C"),
			want: []SessionPath{{SessionID: "s1", Steps: []string{"A", "B", "A", "C"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sessionize(tt.in))
		})
	}
}
