package capacity

import (
	"fmt"
	"strings"
)

// SlotRef names one (day, time) slot in an admission rejection.
type SlotRef struct {
	Day  string `json:"day"`
	Time string `json:"time"`
}

// AdmissionError reports every requested slot that was at capacity, so the
// caller can offer alternatives instead of a generic failure.
type AdmissionError struct {
	Full []SlotRef
}

func (e *AdmissionError) Error() string {
	if len(e.Full) == 0 {
		return "slot at capacity"
	}
	parts := make([]string, 0, len(e.Full))
	for _, s := range e.Full {
		if s.Time != "" {
			parts = append(parts, fmt.Sprintf("%s %s", s.Day, s.Time))
		} else {
			parts = append(parts, s.Day)
		}
	}
	return "at capacity: " + strings.Join(parts, ", ")
}
