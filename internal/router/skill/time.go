package skill

import (
	"context"
	"fmt"
	"time"
)

// Compile-time interface assertion.
var _ Skill = (*TimeSkill)(nil)

// timeTriggers are the words that make TimeSkill claim an utterance, matched
// fuzzily so misheard forms ("uhrzeiten", "späht") still hit.
var timeTriggers = map[string][]string{
	"de": {"spät", "uhrzeit", "uhr", "zeit"},
	"en": {"time", "clock", "late"},
}

// TimeOption is a functional option for configuring a TimeSkill.
type TimeOption func(*TimeSkill)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) TimeOption {
	return func(s *TimeSkill) { s.now = now }
}

// TimeSkill answers "what time is it" locally.
type TimeSkill struct {
	now func() time.Time
}

// NewTimeSkill creates a TimeSkill using the wall clock.
func NewTimeSkill(opts ...TimeOption) *TimeSkill {
	s := &TimeSkill{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name returns "time".
func (s *TimeSkill) Name() string { return "time" }

// CanHandle claims utterances containing a time-related trigger word for the
// given language. Unknown languages fall back to the German trigger set.
func (s *TimeSkill) CanHandle(text, language string) bool {
	triggers, ok := timeTriggers[language]
	if !ok {
		triggers = timeTriggers["de"]
	}
	return MatchesTrigger(text, triggers)
}

// Handle returns the current time as a spoken sentence.
func (s *TimeSkill) Handle(_ context.Context, _ string) (string, error) {
	t := s.now()
	return fmt.Sprintf("Es ist %02d:%02d Uhr.", t.Hour(), t.Minute()), nil
}
