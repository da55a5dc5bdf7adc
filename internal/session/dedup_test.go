package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestMarkProcessedSkipsEmptyIDs(t *testing.T) {
	s := New("s1", fixedTime)
	s.MarkProcessed("", 4)
	assert.Empty(t, s.ProcessedMessageIDs)
	assert.False(t, s.HasProcessed(""))
}

func TestMarkProcessedEvictsOldest(t *testing.T) {
	s := New("s1", fixedTime)
	for i := 0; i < 5; i++ {
		s.MarkProcessed(fmt.Sprintf("m%d", i), 3)
	}
	assert.Equal(t, []string{"m2", "m3", "m4"}, s.ProcessedMessageIDs)
	assert.False(t, s.HasProcessed("m0"))
	assert.True(t, s.HasProcessed("m4"))
}

func TestMarkProcessedProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ids := gen.SliceOf(gen.IntRange(0, 20).Map(func(n int) string { return fmt.Sprintf("m%d", n) }))

	properties.Property("bounded and most recent id always retained", prop.ForAll(
		func(seq []string, capacity int) bool {
			s := New("s1", fixedTime)
			for _, id := range seq {
				s.MarkProcessed(id, capacity)
				if !s.HasProcessed(id) {
					return false
				}
				if len(s.ProcessedMessageIDs) > capacity {
					return false
				}
			}
			seen := map[string]bool{}
			for _, id := range s.ProcessedMessageIDs {
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return true
		},
		ids,
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func TestRecentTextWindow(t *testing.T) {
	s := New("s1", fixedTime)
	window := 30 * time.Second

	assert.False(t, s.IsRepeat("energetic EDM", fixedTime, window))
	s.MarkText("energetic EDM", fixedTime, window)

	assert.True(t, s.IsRepeat("  Energetic   edm ", fixedTime.Add(10*time.Second), window))
	assert.False(t, s.IsRepeat("energetic EDM", fixedTime.Add(31*time.Second), window))
	assert.False(t, s.IsRepeat("chill lofi", fixedTime.Add(time.Second), window))
	assert.False(t, s.IsRepeat("energetic EDM", fixedTime, 0), "a zero window disables the check")

	s.MarkText("chill lofi", fixedTime.Add(40*time.Second), window)
	assert.Len(t, s.RecentTexts, 1, "marks older than the window are pruned")

	c := s.Clone()
	c.MarkText("dark techno", fixedTime.Add(41*time.Second), window)
	assert.Len(t, s.RecentTexts, 1, "clone must not share marks")

	s.Reset()
	assert.True(t, s.IsRepeat("chill lofi", fixedTime.Add(45*time.Second), window), "reset keeps recent texts")
}
