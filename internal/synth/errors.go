package synth

import (
	"errors"
	"fmt"
)

// Validation errors. They are returned before any inference work starts and
// map to client errors in an API layer.
var (
	ErrEmptyText         = errors.New("synth: text is empty")
	ErrInvalidSpeed      = errors.New("synth: speed must be a positive number")
	ErrUnsupportedFormat = errors.New("synth: unsupported audio format")
	ErrVoiceNotFound     = errors.New("synth: voice not found")
	ErrTooFewVoices      = errors.New("synth: combining needs at least two voices")
)

// Escalations after every chunk of a request failed.
var (
	ErrNoChunksProcessed = errors.New("synth: no chunks processed")
	ErrNoAudioGenerated  = errors.New("synth: no audio generated")
)

// VoiceNotFoundError reports an unknown voice. It matches [ErrVoiceNotFound]
// with errors.Is.
type VoiceNotFoundError struct {
	Name string

	// Suggestion is the closest stored voice name, if any is similar.
	Suggestion string
}

func (e *VoiceNotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("synth: voice %q not found (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("synth: voice %q not found", e.Name)
}

// Is makes errors.Is(err, ErrVoiceNotFound) hold.
func (e *VoiceNotFoundError) Is(target error) bool { return target == ErrVoiceNotFound }

// IsValidation reports whether err rejects the request itself rather than
// signalling a failure while serving it.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrEmptyText, ErrInvalidSpeed, ErrUnsupportedFormat, ErrVoiceNotFound, ErrTooFewVoices,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
