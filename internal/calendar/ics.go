// Package calendar renders events as iCalendar (RFC 5545) payloads.
package calendar

import (
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

const (
	prodID      = "-//Paw Connect//Channels//EN"
	stampLayout = "20060102T150405Z"
)

// Entry is the calendar view of an event.
type Entry struct {
	UID         string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

// Renderer turns entries into VCALENDAR text. Now supplies DTSTAMP and
// defaults to time.Now.
type Renderer struct {
	Now func() time.Time
}

// Render uses the wall clock for DTSTAMP.
func Render(entry Entry) string {
	return Renderer{}.Render(entry)
}

// Render returns a single VCALENDAR containing one VEVENT with CRLF line
// endings. A missing UID is replaced with a fresh UUID.
func (r Renderer) Render(entry Entry) string {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	uid := entry.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	cal := ics.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetCalscale("GREGORIAN")

	event := cal.AddEvent(uid)
	event.SetDtStampTime(now())
	event.SetStartAt(entry.Start)
	event.SetEndAt(entry.End)
	event.SetSummary(normalizeBreaks(entry.Title))
	if entry.Description != "" {
		event.SetDescription(normalizeBreaks(entry.Description))
	}
	if entry.Location != "" {
		event.SetLocation(normalizeBreaks(entry.Location))
	}
	return cal.Serialize(ics.WithNewLineWindows)
}

// FormatTime renders t in UTC as YYYYMMDDTHHMMSSZ.
func FormatTime(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

var breakNormalizer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// normalizeBreaks folds CR and CRLF into LF, the only break the text
// escaper turns into \n.
func normalizeBreaks(value string) string {
	return breakNormalizer.Replace(value)
}
