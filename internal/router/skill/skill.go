// Package skill defines the skill interface and the explicit registry the
// intent router consults before any external backend. Skills are plain values
// registered at startup; there is no dynamic discovery. Selection is by
// registration order — the first skill claiming an utterance wins.
package skill

import (
	"context"
	"fmt"
)

// Skill answers a narrow class of utterances locally, without any network
// round-trip.
type Skill interface {
	// Name is the stable skill identifier used in configuration
	// (ENABLED_SKILLS) and responses.
	Name() string

	// CanHandle reports whether this skill claims the utterance. language is
	// the BCP-47 code the text was transcribed in.
	CanHandle(text, language string) bool

	// Handle produces the reply for a claimed utterance.
	Handle(ctx context.Context, text string) (string, error)
}

// Async is an optional marker for skills whose real work continues after
// Handle returns; their reply is only an acknowledgement (e.g. a smart-home
// action). The router treats such replies like any other, the marker exists
// for logging and future scheduling decisions.
type Async interface {
	Async() bool
}

// Registry holds skills in registration order.
type Registry struct {
	skills []Skill
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a skill. Not safe to call concurrently with Resolve; the
// registry is assembled at startup and read-only afterwards.
func (r *Registry) Register(s Skill) {
	r.skills = append(r.skills, s)
}

// Resolve returns the first registered skill claiming the text, or nil.
func (r *Registry) Resolve(text, language string) Skill {
	for _, s := range r.skills {
		if s.CanHandle(text, language) {
			return s
		}
	}
	return nil
}

// Names returns the registered skill names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.skills))
	for i, s := range r.skills {
		names[i] = s.Name()
	}
	return names
}

// Len returns the number of registered skills.
func (r *Registry) Len() int { return len(r.skills) }

// ForName constructs the built-in skill with the given name. Used to turn the
// ENABLED_SKILLS list into a registry.
func ForName(name string) (Skill, error) {
	switch name {
	case "time":
		return NewTimeSkill(), nil
	default:
		return nil, fmt.Errorf("skill: unknown skill %q", name)
	}
}
