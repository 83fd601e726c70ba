package service

import (
	"encoding/json"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/marcus/tracker/internal/models"
)

// Nullable is a patch value that can be left alone, set, or cleared.
// Set with a nil Value clears the field.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// IssuePatch lists the fields an issue update changes. Zero-valued fields
// are kept as they are.
type IssuePatch struct {
	Title          *string
	Description    *string
	Status         *models.Status
	Priority       *models.Priority
	Severity       *models.Severity
	DueDate        Nullable[time.Time]
	EstimatedHours Nullable[float64]
	AssigneeID     Nullable[string]
	LabelIDs       *[]string // replaces the label set
	WatcherIDs     *[]string // replaces the watcher set
}

// IsEmpty reports whether the patch changes nothing.
func (p IssuePatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.Severity == nil && !p.DueDate.Set && !p.EstimatedHours.Set && !p.AssigneeID.Set &&
		p.LabelIDs == nil && p.WatcherIDs == nil
}

// Patchable issue field names.
const (
	FieldTitle          = "title"
	FieldDescription    = "description"
	FieldStatus         = "status"
	FieldPriority       = "priority"
	FieldSeverity       = "severity"
	FieldDueDate        = "due_date"
	FieldEstimatedHours = "estimated_hours"
	FieldAssigneeID     = "assignee_id"
	FieldLabelIDs       = "label_ids"
	FieldWatcherIDs     = "watcher_ids"
)

// UpdateFields are the fields accepted by a single issue update.
var UpdateFields = []string{
	FieldTitle, FieldDescription, FieldStatus, FieldPriority, FieldSeverity,
	FieldDueDate, FieldEstimatedHours, FieldAssigneeID, FieldLabelIDs, FieldWatcherIDs,
}

// BulkFields are the only fields a bulk update may change. Identifier,
// creation time, reporter and project are never patchable.
var BulkFields = []string{
	FieldTitle, FieldDescription, FieldStatus, FieldPriority, FieldSeverity,
	FieldDueDate, FieldEstimatedHours, FieldAssigneeID,
}

// DecodeIssuePatch decodes the allowed fields present in raw. Names outside
// allowed are ignored. Each malformed value is reported in the returned
// ValidationError and left out of the patch, so callers can either reject
// the request or apply what decoded cleanly.
func DecodeIssuePatch(raw map[string]json.RawMessage, allowed []string) (IssuePatch, *ValidationError) {
	var patch IssuePatch
	v := &ValidationError{}
	for _, field := range allowed {
		msg, ok := raw[field]
		if !ok {
			continue
		}
		isNull := string(msg) == "null"
		switch field {
		case FieldTitle:
			var s string
			if isNull || json.Unmarshal(msg, &s) != nil {
				v.Add(field, "type", string(msg), "title must be a string")
				continue
			}
			s = strings.TrimSpace(s)
			if fe, bad := checkTitle(s); bad {
				v.Fields = append(v.Fields, fe)
				continue
			}
			patch.Title = &s
		case FieldDescription:
			var s string
			if !isNull && json.Unmarshal(msg, &s) != nil {
				v.Add(field, "type", string(msg), "description must be a string")
				continue
			}
			patch.Description = &s
		case FieldStatus:
			var s models.Status
			if isNull || json.Unmarshal(msg, &s) != nil || !models.IsValidStatus(s) {
				v.Add(field, "enum", string(msg), "status must be one of open, in_progress, resolved, closed, reopened")
				continue
			}
			patch.Status = &s
		case FieldPriority:
			var pr models.Priority
			if isNull || json.Unmarshal(msg, &pr) != nil || !models.IsValidPriority(pr) {
				v.Add(field, "enum", string(msg), "priority must be one of low, medium, high, critical")
				continue
			}
			patch.Priority = &pr
		case FieldSeverity:
			var sv models.Severity
			if isNull || json.Unmarshal(msg, &sv) != nil || !models.IsValidSeverity(sv) {
				v.Add(field, "enum", string(msg), "severity must be one of minor, major, critical, blocker")
				continue
			}
			patch.Severity = &sv
		case FieldDueDate:
			if isNull {
				patch.DueDate = Nullable[time.Time]{Set: true}
				continue
			}
			var s string
			if json.Unmarshal(msg, &s) != nil {
				v.Add(field, "format", string(msg), "due_date must be an RFC 3339 timestamp or YYYY-MM-DD")
				continue
			}
			t, err := ParseDueDate(s)
			if err != nil {
				v.Add(field, "format", s, "due_date must be an RFC 3339 timestamp or YYYY-MM-DD")
				continue
			}
			patch.DueDate = Nullable[time.Time]{Set: true, Value: t}
		case FieldEstimatedHours:
			if isNull {
				patch.EstimatedHours = Nullable[float64]{Set: true}
				continue
			}
			var h float64
			if json.Unmarshal(msg, &h) != nil {
				v.Add(field, "type", string(msg), "estimated_hours must be a number")
				continue
			}
			if fe, bad := checkEstimate(h); bad {
				v.Fields = append(v.Fields, fe)
				continue
			}
			patch.EstimatedHours = Nullable[float64]{Set: true, Value: &h}
		case FieldAssigneeID:
			if isNull {
				patch.AssigneeID = Nullable[string]{Set: true}
				continue
			}
			var s string
			if json.Unmarshal(msg, &s) != nil {
				v.Add(field, "type", string(msg), "assignee_id must be a string or null")
				continue
			}
			if s == "" {
				patch.AssigneeID = Nullable[string]{Set: true}
				continue
			}
			patch.AssigneeID = Nullable[string]{Set: true, Value: &s}
		case FieldLabelIDs, FieldWatcherIDs:
			ids := []string{}
			if !isNull && json.Unmarshal(msg, &ids) != nil {
				v.Add(field, "type", string(msg), field+" must be an array of ids")
				continue
			}
			if field == FieldLabelIDs {
				patch.LabelIDs = &ids
			} else {
				patch.WatcherIDs = &ids
			}
		}
	}
	return patch, v
}

// ParseDueDate accepts an RFC 3339 timestamp or a bare date (midnight UTC).
func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		var derr error
		t, derr = time.Parse("2006-01-02", s)
		if derr != nil {
			return nil, err
		}
	}
	t = t.UTC()
	return &t, nil
}

func checkTitle(title string) (FieldError, bool) {
	n := utf8.RuneCountInString(title)
	switch {
	case n == 0:
		return FieldError{Field: FieldTitle, Rule: "required", Value: title, Message: "title is required"}, true
	case n < models.IssueTitleMin:
		return FieldError{Field: FieldTitle, Rule: "min_length", Value: title, Message: "title must be at least 5 characters"}, true
	case n > models.IssueTitleMax:
		return FieldError{Field: FieldTitle, Rule: "max_length", Value: title, Message: "title must be at most 200 characters"}, true
	}
	return FieldError{}, false
}

func checkEstimate(h float64) (FieldError, bool) {
	if math.IsNaN(h) || h < 0 || h >= models.MaxEstimateHours {
		return FieldError{Field: FieldEstimatedHours, Rule: "range", Value: h,
			Message: "estimated_hours must be between 0 and 9999.99"}, true
	}
	if math.Abs(math.Round(h*100)/100-h) > 1e-9 {
		return FieldError{Field: FieldEstimatedHours, Rule: "precision", Value: h,
			Message: "estimated_hours allows at most two decimal places"}, true
	}
	return FieldError{}, false
}

// Validate checks the values a patch sets. DecodeIssuePatch output always
// passes; patches built in code are checked here.
func (p IssuePatch) Validate() error {
	v := &ValidationError{}
	if p.Title != nil {
		if fe, bad := checkTitle(strings.TrimSpace(*p.Title)); bad {
			v.Fields = append(v.Fields, fe)
		}
	}
	if p.Status != nil && !models.IsValidStatus(*p.Status) {
		v.Add(FieldStatus, "enum", *p.Status, "status must be one of open, in_progress, resolved, closed, reopened")
	}
	if p.Priority != nil && !models.IsValidPriority(*p.Priority) {
		v.Add(FieldPriority, "enum", *p.Priority, "priority must be one of low, medium, high, critical")
	}
	if p.Severity != nil && !models.IsValidSeverity(*p.Severity) {
		v.Add(FieldSeverity, "enum", *p.Severity, "severity must be one of minor, major, critical, blocker")
	}
	if p.EstimatedHours.Set && p.EstimatedHours.Value != nil {
		if fe, bad := checkEstimate(*p.EstimatedHours.Value); bad {
			v.Fields = append(v.Fields, fe)
		}
	}
	return v.Err()
}
