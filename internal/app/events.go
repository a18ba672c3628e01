package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pawconnect/channels/internal/access"
	"pawconnect/channels/internal/calendar"
	"pawconnect/channels/internal/store"
	"pawconnect/channels/internal/util"
)

type CreateEventInput struct {
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Location    *string   `json:"location"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

type EventPatch struct {
	Title       Field[string]    `json:"title"`
	Description Field[string]    `json:"description"`
	Location    Field[string]    `json:"location"`
	StartTime   Field[time.Time] `json:"start_time"`
	EndTime     Field[time.Time] `json:"end_time"`
}

// eventFor loads an event by id. Events reached directly still require
// membership of their channel.
func (s *Service) eventFor(ctx context.Context, eventID, principal string) (store.Event, error) {
	if strings.TrimSpace(eventID) == "" {
		return store.Event{}, notFound()
	}
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return store.Event{}, lookupErr(err, "get event")
	}
	if _, err := s.channelFor(ctx, event.ChannelID, principal); err != nil {
		return store.Event{}, err
	}
	return event, nil
}

func validateSchedule(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return validationError("start_time and end_time are required")
	}
	if end.Before(start) {
		return validationError("end_time must not be before start_time")
	}
	return nil
}

func (s *Service) CreateEvent(ctx context.Context, channelID string, input CreateEventInput, principal string) (store.Event, error) {
	channel, err := s.channelFor(ctx, channelID, principal)
	if err != nil {
		return store.Event{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Event{}, validationError("title is required")
	}
	if err := validateSchedule(input.StartTime, input.EndTime); err != nil {
		return store.Event{}, err
	}

	event, err := s.store.InsertEvent(ctx, store.Event{
		ID:          util.NewID(),
		ChannelID:   channel.ID,
		Title:       title,
		Description: input.Description,
		Location:    input.Location,
		StartTime:   input.StartTime.UTC(),
		EndTime:     input.EndTime.UTC(),
		CreatedBy:   principal,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return store.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

func (s *Service) ListEvents(ctx context.Context, channelID, principal string) ([]store.Event, error) {
	channel, err := s.channelFor(ctx, channelID, principal)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEventsByChannel(ctx, channel.ID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID, principal string) (store.Event, error) {
	return s.eventFor(ctx, eventID, principal)
}

// UpdateEvent is limited to the event's creator.
func (s *Service) UpdateEvent(ctx context.Context, eventID string, patch EventPatch, principal string) (store.Event, error) {
	event, err := s.eventFor(ctx, eventID, principal)
	if err != nil {
		return store.Event{}, err
	}
	if !access.IsCreator(principal, event.CreatedBy) {
		return store.Event{}, notFound()
	}

	if patch.Title.Set {
		title := strings.TrimSpace(patch.Title.Value)
		if patch.Title.Null || title == "" {
			return store.Event{}, validationError("title cannot be empty")
		}
		event.Title = title
	}
	event.Description = applyNullable(event.Description, patch.Description)
	event.Location = applyNullable(event.Location, patch.Location)
	if patch.StartTime.Set {
		if patch.StartTime.Null {
			return store.Event{}, validationError("start_time cannot be null")
		}
		event.StartTime = patch.StartTime.Value.UTC()
	}
	if patch.EndTime.Set {
		if patch.EndTime.Null {
			return store.Event{}, validationError("end_time cannot be null")
		}
		event.EndTime = patch.EndTime.Value.UTC()
	}
	if err := validateSchedule(event.StartTime, event.EndTime); err != nil {
		return store.Event{}, err
	}
	now := s.now()
	event.UpdatedAt = &now

	updated, err := s.store.UpdateEvent(ctx, event)
	if err != nil {
		return store.Event{}, lookupErr(err, "update event")
	}
	return updated, nil
}

func (s *Service) DeleteEvent(ctx context.Context, eventID, principal string) error {
	event, err := s.eventFor(ctx, eventID, principal)
	if err != nil {
		return err
	}
	if !access.IsCreator(principal, event.CreatedBy) {
		return notFound()
	}
	if err := s.store.DeleteEvent(ctx, event.ID); err != nil {
		return lookupErr(err, "delete event")
	}
	return nil
}

// EventCalendar renders the event as an iCalendar document. The event id is
// the UID so repeated downloads update the same calendar entry.
func (s *Service) EventCalendar(ctx context.Context, eventID, principal string) (string, error) {
	event, err := s.eventFor(ctx, eventID, principal)
	if err != nil {
		return "", err
	}
	renderer := calendar.Renderer{Now: s.now}
	return renderer.Render(calendarEntry(event)), nil
}

func calendarEntry(event store.Event) calendar.Entry {
	entry := calendar.Entry{
		UID:   event.ID,
		Title: event.Title,
		Start: event.StartTime,
		End:   event.EndTime,
	}
	if event.Description != nil {
		entry.Description = *event.Description
	}
	if event.Location != nil {
		entry.Location = *event.Location
	}
	return entry
}
