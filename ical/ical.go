// Package ical converts between stored events and iCalendar documents.
// Incoming RRULE properties are parsed leniently with rrule-go and mapped
// onto the engine's rule type; only the supported frequency subset is
// accepted.
package ical

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

const productID = "-//schedkit//Calendar Engine//EN"

// EncodeEvents renders events as a single VCALENDAR. Recurring masters
// carry their RRULE; instances and exception overrides carry RECURRENCE-ID.
func EncodeEvents(name string, events []*storage.Event) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if name != "" {
		cal.Props.SetText(ical.PropName, name)
	}

	for _, event := range events {
		comp := ical.NewComponent(ical.CompEvent)
		uid := event.ID
		if uid == "" {
			uid = event.ParentID
		}
		comp.Props.SetText(ical.PropUID, uid)
		comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
		comp.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime)
		comp.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime)
		if event.Title != "" {
			comp.Props.SetText(ical.PropSummary, event.Title)
		}
		if event.Description != "" {
			comp.Props.SetText(ical.PropDescription, event.Description)
		}
		if event.Rule != nil {
			prop := ical.NewProp(ical.PropRecurrenceRule)
			prop.Value = event.Rule.String()
			comp.Props.Set(prop)
		}
		if event.RecurrenceTime != nil {
			comp.Props.SetDateTime("RECURRENCE-ID", *event.RecurrenceTime)
		}
		for _, attendee := range event.Attendees {
			prop := ical.NewProp(ical.PropAttendee)
			prop.Value = "mailto:" + attendee
			comp.Props.Add(prop)
		}
		cal.Children = append(cal.Children, comp)
	}
	return cal
}

// DecodeEvents extracts the VEVENT components of a calendar. Components
// whose RRULE uses an unsupported frequency or BYSETPOS are rejected.
func DecodeEvents(cal *ical.Calendar) ([]*storage.Event, error) {
	var events []*storage.Event
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		event := &storage.Event{}
		if prop := comp.Props.Get(ical.PropUID); prop != nil {
			event.ID = prop.Value
		}
		if prop := comp.Props.Get(ical.PropSummary); prop != nil {
			event.Title = prop.Value
		}
		if prop := comp.Props.Get(ical.PropDescription); prop != nil {
			event.Description = prop.Value
		}

		start, err := comp.Props.DateTime(ical.PropDateTimeStart, nil)
		if err != nil {
			return nil, fmt.Errorf("event %s: missing or invalid DTSTART: %w", event.ID, err)
		}
		event.StartTime = start
		if end, err := comp.Props.DateTime(ical.PropDateTimeEnd, nil); err == nil {
			event.EndTime = end
		} else if prop := comp.Props.Get(ical.PropDuration); prop != nil {
			d, err := prop.Duration()
			if err != nil {
				return nil, fmt.Errorf("event %s: invalid DURATION: %w", event.ID, err)
			}
			event.EndTime = start.Add(d)
		} else {
			event.EndTime = start
		}

		if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil && prop.Value != "" {
			rule, err := decodeRRule(prop.Value)
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", event.ID, err)
			}
			event.Rule = rule
		}
		if prop := comp.Props.Get("RECURRENCE-ID"); prop != nil && prop.Value != "" {
			t, err := time.Parse("20060102T150405Z", prop.Value)
			if err != nil {
				return nil, fmt.Errorf("event %s: invalid RECURRENCE-ID: %w", event.ID, err)
			}
			event.RecurrenceTime = &t
			event.IsException = true
		}
		for _, prop := range comp.Props.Values(ical.PropAttendee) {
			addr := prop.Value
			if len(addr) > 7 && addr[:7] == "mailto:" {
				addr = addr[7:]
			}
			event.Attendees = append(event.Attendees, addr)
		}

		events = append(events, event)
	}
	return events, nil
}

// decodeRRule maps an external RRULE string onto a recurrence.Rule using
// rrule-go's lenient parser for the full RFC 5545 grammar.
func decodeRRule(text string) (*recurrence.Rule, error) {
	opt, err := rrule.StrToROption(text)
	if err != nil {
		return nil, fmt.Errorf("invalid RRULE: %w", err)
	}
	if len(opt.Bysetpos) > 0 {
		return nil, &recurrence.ValidationError{Field: "BYSETPOS", Reason: "not supported"}
	}

	rule := &recurrence.Rule{Interval: 1, WeekStart: recurrence.Monday}
	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = recurrence.Daily
	case rrule.WEEKLY:
		rule.Frequency = recurrence.Weekly
	case rrule.MONTHLY:
		rule.Frequency = recurrence.Monthly
	case rrule.YEARLY:
		rule.Frequency = recurrence.Yearly
	default:
		return nil, &recurrence.ValidationError{Field: "FREQ", Reason: "unsupported frequency"}
	}

	if opt.Interval > 0 {
		rule.Interval = opt.Interval
	}
	rule.Count = opt.Count
	if !opt.Until.IsZero() {
		until := opt.Until.UTC()
		rule.Until = &until
	}
	for _, day := range opt.Byweekday {
		rule.ByDay = append(rule.ByDay, recurrence.Weekday(day.String()))
	}
	rule.ByMonthDay = opt.Bymonthday
	rule.ByMonth = opt.Bymonth
	rule.ByYearDay = opt.Byyearday
	rule.ByWeekNo = opt.Byweekno
	rule.ByHour = opt.Byhour
	rule.ByMinute = opt.Byminute
	rule.BySecond = opt.Bysecond
	rule.WeekStart = recurrence.Weekday(opt.Wkst.String())

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}
