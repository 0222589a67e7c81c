package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	ErrValidation = errors.New("invalid generation request")
	ErrNoResult   = errors.New("no optimization result available")
)

// Phase is the lifecycle phase of the client-side session.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseOptimizing       Phase = "optimizing"
	PhasePausedOptimizing Phase = "paused"
)

func (p Phase) String() string {
	return string(p)
}

// Outcome records how the last session ended. A session that was discarded or
// accepted returns to PhaseIdle; the outcome keeps the terminal reason.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeDiscarded Outcome = "discarded"
	OutcomeAccepted  Outcome = "accepted"
)

func (o Outcome) IsTerminal() bool {
	return o == OutcomeDiscarded || o == OutcomeAccepted
}

// Command names understood by the generation server.
const (
	CommandStart   = "start-generation"
	CommandStop    = "stop-generation"
	CommandPause   = "pause-generation"
	CommandResume  = "resume-generation"
	CommandUpscale = "upscale-generation"
)

// ValidCommands returns every command name the client may emit.
func ValidCommands() []string {
	return []string{CommandStart, CommandStop, CommandPause, CommandResume, CommandUpscale}
}

// GenerationRequest is the payload of start, resume and upscale commands.
type GenerationRequest struct {
	Prompt        string  `json:"prompt"`
	StylePrompt   string  `json:"stylePrompt"`
	ImageBase64   string  `json:"imageBase64"`
	LearningRate  float64 `json:"learningRate"`
	BackgroundImg string  `json:"backgroundImg"`
	NumRecSteps   *int    `json:"numRecSteps"`
	ModelType     string  `json:"modelType"`
}

// optionalFields may legitimately be empty.
var optionalFields = map[string]bool{
	"stylePrompt": true,
	"numRecSteps": true,
}

// ValidationError names the first required field found empty.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("empty value for: %s", e.Field)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Validate walks every field of the request and rejects the first empty
// required one. New fields are required unless listed in optionalFields.
func (r *GenerationRequest) Validate() error {
	v := reflect.ValueOf(r).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := fieldName(t.Field(i))
		if optionalFields[name] {
			continue
		}
		if v.Field(i).IsZero() {
			return &ValidationError{Field: name}
		}
	}
	return nil
}

func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}

// Image is a decoded image handle.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

func (img *Image) IsEmpty() bool {
	return img == nil || len(img.Data) == 0
}

// OptimizationResult is the latest artifact streamed by the server.
type OptimizationResult struct {
	Image         Image
	Step          int
	NumIterations int
}

// Complete reports whether the stream reached its requested iteration count.
func (r *OptimizationResult) Complete() bool {
	return r.Step == r.NumIterations
}

func (r *OptimizationResult) Progress() float64 {
	if r.NumIterations == 0 {
		return 0
	}
	return float64(r.Step) / float64(r.NumIterations)
}
