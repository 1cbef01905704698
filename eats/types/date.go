package types

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/artefact/eats/errors"
)

// UnspecifiedDate is the assembled form of a date with no populated slots.
const UnspecifiedDate = "[unspecified date]"

// Slot names one of the nine positions a date part can occupy.
type Slot string

const (
	SlotStart    Slot = "start"
	SlotStartTAQ Slot = "start_taq"
	SlotStartTPQ Slot = "start_tpq"
	SlotEnd      Slot = "end"
	SlotEndTAQ   Slot = "end_taq"
	SlotEndTPQ   Slot = "end_tpq"
	SlotPoint    Slot = "point"
	SlotPointTAQ Slot = "point_taq"
	SlotPointTPQ Slot = "point_tpq"
)

// Slots lists every slot in export order.
var Slots = []Slot{
	SlotStart, SlotStartTAQ, SlotStartTPQ,
	SlotEnd, SlotEndTAQ, SlotEndTPQ,
	SlotPoint, SlotPointTAQ, SlotPointTPQ,
}

// ParseSlot converts s to a Slot.
func ParseSlot(s string) (Slot, error) {
	for _, slot := range Slots {
		if string(slot) == s {
			return slot, nil
		}
	}
	return "", errors.Newf("unknown date part slot %q", s)
}

// DatePart is a populated slot.
type DatePart struct {
	Raw        string
	Normalised string
	CalendarID int64
	DateTypeID int64
	Certainty  Certainty
}

func (p DatePart) render() string {
	if p.Certainty == CertaintyNone {
		return p.Raw + "?"
	}
	return p.Raw
}

// Date is a partial, possibly uncertain date attached to an assertion.
// Unpopulated slots are absent from Parts.
type Date struct {
	ID          int64
	AssertionID int64
	PeriodID    int64
	Parts       map[Slot]DatePart
}

// Part returns the part in slot, if populated.
func (d *Date) Part(slot Slot) (DatePart, bool) {
	p, ok := d.Parts[slot]
	return p, ok
}

// AssembledForm renders the date. The point family wins when any of its
// slots is populated; otherwise the start and end families are joined with
// an en dash.
func (d *Date) AssembledForm() string {
	if point := d.family(SlotPoint, SlotPointTAQ, SlotPointTPQ); point != "" {
		return point
	}
	start := d.family(SlotStart, SlotStartTAQ, SlotStartTPQ)
	end := d.family(SlotEnd, SlotEndTAQ, SlotEndTPQ)
	if start == "" && end == "" {
		return UnspecifiedDate
	}
	return strings.TrimSpace(start + " – " + end)
}

func (d *Date) family(exact, taq, tpq Slot) string {
	if p, ok := d.Parts[exact]; ok {
		return p.render()
	}
	var bounds []string
	if p, ok := d.Parts[taq]; ok {
		bounds = append(bounds, "at or before "+p.render())
	}
	if p, ok := d.Parts[tpq]; ok {
		bounds = append(bounds, "at or after "+p.render())
	}
	return strings.Join(bounds, " and ")
}

// ItemRefs lists the period, calendars and date types the date points at.
func (d *Date) ItemRefs() []ItemRef {
	refs := []ItemRef{{Field: "date_period", Kind: KindDatePeriod, ID: d.PeriodID}}
	for _, slot := range Slots {
		p, ok := d.Parts[slot]
		if !ok {
			continue
		}
		if p.CalendarID != 0 {
			refs = append(refs, ItemRef{Field: string(slot) + "_calendar", Kind: KindCalendar, ID: p.CalendarID})
		}
		if p.DateTypeID != 0 {
			refs = append(refs, ItemRef{Field: string(slot) + "_type", Kind: KindDateType, ID: p.DateTypeID})
		}
	}
	return refs
}

func (d *Date) signature() string {
	parts := make([]string, 0, len(d.Parts))
	for _, slot := range Slots {
		if p, ok := d.Parts[slot]; ok {
			parts = append(parts, fmt.Sprintf("%s=%q/%q/%d/%d/%s", slot, p.Raw, p.Normalised, p.CalendarID, p.DateTypeID, p.Certainty.OrFull()))
		}
	}
	sort.Strings(parts)
	return fmt.Sprintf("p%d{%s}", d.PeriodID, strings.Join(parts, ";"))
}

// DateInput is the data for creating or replacing a date.
type DateInput struct {
	PeriodID int64
	Parts    map[Slot]DatePart
}

// Validate checks the input's shape.
func (in DateInput) Validate() error {
	if in.PeriodID == 0 {
		return errors.New("date requires a date period")
	}
	for slot, p := range in.Parts {
		if strings.TrimSpace(p.Raw) == "" {
			return errors.Newf("date part %s has no text", slot)
		}
		if _, err := ParseCertainty(string(p.Certainty)); err != nil {
			return errors.Wrapf(err, "date part %s", slot)
		}
	}
	return nil
}

// ParseDateInput reads the form-style field map: date_period plus, for each
// populated slot, {slot}, {slot}_calendar, {slot}_type, {slot}_certainty and
// {slot}_normalised. A slot counts as populated when {slot} is non-empty.
func ParseDateInput(data map[string]string) (DateInput, error) {
	in := DateInput{Parts: make(map[Slot]DatePart)}
	period, err := parseID(data, "date_period")
	if err != nil {
		return in, err
	}
	in.PeriodID = period

	for _, slot := range Slots {
		raw := strings.TrimSpace(data[string(slot)])
		if raw == "" {
			continue
		}
		key := string(slot)
		calendar, err := parseID(data, key+"_calendar")
		if err != nil {
			return in, err
		}
		dateType, err := parseID(data, key+"_type")
		if err != nil {
			return in, err
		}
		certainty, err := ParseCertainty(data[key+"_certainty"])
		if err != nil {
			return in, errors.Wrapf(err, "%s_certainty", key)
		}
		in.Parts[slot] = DatePart{
			Raw:        raw,
			Normalised: strings.TrimSpace(data[key+"_normalised"]),
			CalendarID: calendar,
			DateTypeID: dateType,
			Certainty:  certainty,
		}
	}
	return in, in.Validate()
}

func parseID(data map[string]string, key string) (int64, error) {
	v := strings.TrimSpace(data[key])
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, errors.Newf("%s: invalid identifier %q", key, v)
	}
	return id, nil
}
