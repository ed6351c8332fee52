// Package agent runs the plan, execute, evaluate pipeline behind RunAgent.
package agent

import (
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/mohammad-safakhou/counsel/internal/session"
)

// StepKind names the operation a step performs.
type StepKind string

const (
	StepSearch   StepKind = "search"
	StepGenerate StepKind = "generate"
	StepEcho     StepKind = "echo"
	StepRetrieve StepKind = "retrieve"
)

// Step is a single unit of work. An empty Input means the plan query.
type Step struct {
	Kind  StepKind `json:"kind"`
	Input string   `json:"input,omitempty"`
}

// SessionRef is the session context handed to planning and model routing.
type SessionRef struct {
	ID      string            `json:"id"`
	History []session.Message `json:"history"`
}

type PlanMeta struct {
	Query              string     `json:"query"`
	Session            SessionRef `json:"session"`
	ProcessedFileCount int        `json:"processed_file_count"`
}

// Plan is an ordered list of steps. An empty plan is valid.
type Plan struct {
	Steps []Step   `json:"steps"`
	Meta  PlanMeta `json:"meta"`
}

func (p Plan) input(s Step) string {
	if s.Input != "" {
		return s.Input
	}
	return p.Meta.Query
}

// StepError is set on a StepResult only when the step failed.
type StepError struct {
	Kind    apperr.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type StepResult struct {
	Step   Step       `json:"step"`
	Output any        `json:"output"`
	Error  *StepError `json:"error,omitempty"`
}

// Failed reports whether the step recorded an error.
func (r StepResult) Failed() bool { return r.Error != nil }

// FinalResponse is what RunAgent hands back to callers.
type FinalResponse struct {
	Response   any          `json:"response"`
	AllResults []StepResult `json:"all_results"`
}

func stepError(err error) *StepError {
	kind := apperr.KindOf(err)
	return &StepError{Kind: kind, Message: err.Error()}
}
