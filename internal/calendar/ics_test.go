package calendar

import (
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fixedStamp = time.Date(2026, 10, 18, 8, 30, 0, 0, time.UTC)
	warsaw     = time.FixedZone("CEST", 2*60*60)
)

func sampleEntry() Entry {
	return Entry{
		UID:         "evt-1",
		Title:       "Leash training",
		Description: "Bring treats",
		Location:    "Park",
		Start:       time.Date(2026, 10, 20, 17, 0, 0, 0, warsaw),
		End:         time.Date(2026, 10, 20, 18, 0, 0, 0, warsaw),
	}
}

func TestRenderProducesSingleEventInUTC(t *testing.T) {
	out := Renderer{Now: func() time.Time { return fixedStamp }}.Render(sampleEntry())

	want := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Paw Connect//Channels//EN",
		"CALSCALE:GREGORIAN",
		"BEGIN:VEVENT",
		"UID:evt-1",
		"DTSTAMP:20261018T083000Z",
		"DTSTART:20261020T150000Z",
		"DTEND:20261020T160000Z",
		"SUMMARY:Leash training",
		"DESCRIPTION:Bring treats",
		"LOCATION:Park",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
	assert.Equal(t, want, out)
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}

func TestRenderIsDeterministicExceptStamp(t *testing.T) {
	first := Render(sampleEntry())
	time.Sleep(1100 * time.Millisecond)
	second := Render(sampleEntry())

	assert.Equal(t, withoutStamp(first), withoutStamp(second))
}

func TestRenderGeneratesUID(t *testing.T) {
	entry := sampleEntry()
	entry.UID = ""

	a := Render(entry)
	b := Render(entry)
	require.Contains(t, a, "UID:")
	assert.NotEqual(t, uidLine(a), uidLine(b))
}

func TestRenderEscapesText(t *testing.T) {
	entry := sampleEntry()
	entry.Title = "Walk; sit, stay"
	entry.Description = "line one\nline two \\ done"

	out := Renderer{Now: func() time.Time { return fixedStamp }}.Render(entry)
	assert.Contains(t, out, `SUMMARY:Walk\; sit\, stay`+"\r\n")
	assert.Contains(t, out, `DESCRIPTION:line one\nline two \\ done`+"\r\n")
}

func TestRenderParsesBack(t *testing.T) {
	entry := sampleEntry()
	entry.Title = "Walk; sit, stay"
	entry.Description = "line one\r\nline two " + strings.Repeat("long ", 30) + "end"

	cal, err := ics.ParseCalendar(strings.NewReader(Render(entry)))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "evt-1", event.GetProperty(ics.ComponentPropertyUniqueId).Value)
	assert.Equal(t, "Walk; sit, stay", event.GetProperty(ics.ComponentPropertySummary).Value)
	assert.Equal(t, "line one\nline two "+strings.Repeat("long ", 30)+"end", event.GetProperty(ics.ComponentPropertyDescription).Value)

	start, err := event.GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(entry.Start))
}

func TestRenderOmitsEmptyOptionalFields(t *testing.T) {
	entry := sampleEntry()
	entry.Description = ""
	entry.Location = ""

	out := Render(entry)
	assert.NotContains(t, out, "DESCRIPTION:")
	assert.NotContains(t, out, "LOCATION:")
}

func TestRenderFoldsLongLines(t *testing.T) {
	entry := sampleEntry()
	entry.Description = strings.Repeat("ą", 100)

	out := Render(entry)
	for _, line := range strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), 75, "line %q", line)
	}
	unfolded := strings.ReplaceAll(out, "\r\n ", "")
	assert.Contains(t, unfolded, "DESCRIPTION:"+strings.Repeat("ą", 100))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "20260101T000000Z", FormatTime(time.Date(2026, 1, 1, 2, 0, 0, 0, warsaw)))
}

func withoutStamp(out string) string {
	lines := strings.Split(out, "\r\n")
	kept := lines[:0]
	for _, line := range lines {
		if !strings.HasPrefix(line, "DTSTAMP:") {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\r\n")
}

func uidLine(out string) string {
	for _, line := range strings.Split(out, "\r\n") {
		if strings.HasPrefix(line, "UID:") {
			return line
		}
	}
	return ""
}
