// Package contract defines the work request and work result documents that
// cross the boundary between the watcher host and the remote daemon, and
// validates them against an embedded CUE schema.
//
// Requests are validated before the daemon acts on them; results are
// validated before they are written. Unknown fields are rejected.
package contract

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

// ErrInvalid marks documents that fail schema validation.
var ErrInvalid = errors.New("contract validation failed")

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidRequestID reports whether id may name a request file.
func ValidRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}

// Action names what a request asks the daemon to do.
type Action string

const (
	ActionProcess Action = "process"
	ActionStatus  Action = "status"
	ActionCancel  Action = "cancel"
)

// Mode selects how a process request finds its audio.
type Mode string

const (
	// ModeItems processes exactly the files listed in Params.Items.
	ModeItems Mode = "items"
	// ModeScan processes whatever the daemon finds in its media directory.
	ModeScan Mode = "scan"
)

// ResultStatus is the terminal outcome of a request.
type ResultStatus string

const (
	StatusCompleted ResultStatus = "completed"
	StatusPartial   ResultStatus = "partial"
	StatusFailed    ResultStatus = "failed"
)

// ItemRef points at one staged audio file.
type ItemRef struct {
	ItemID          string  `json:"item_id"`
	File            string  `json:"file"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Params bounds and shapes a request.
type Params struct {
	Limit    int       `json:"limit,omitempty"`
	MaxHours float64   `json:"max_hours,omitempty"`
	Mode     Mode      `json:"mode,omitempty"`
	Quality  string    `json:"quality,omitempty"`
	TargetID string    `json:"target_id,omitempty"`
	Items    []ItemRef `json:"items,omitempty"`
}

// EffectiveMode resolves the default: listed items win over a directory scan.
func (p Params) EffectiveMode() Mode {
	if p.Mode != "" {
		return p.Mode
	}
	if len(p.Items) > 0 {
		return ModeItems
	}
	return ModeScan
}

// MaxDuration converts MaxHours; zero means unbounded.
func (p Params) MaxDuration() time.Duration {
	return time.Duration(p.MaxHours * float64(time.Hour))
}

// WorkRequest is created by a caller and consumed once by the daemon.
type WorkRequest struct {
	ID          string    `json:"id"`
	Action      Action    `json:"action"`
	Params      Params    `json:"params"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// Transcript is one processed item.
type Transcript struct {
	File            string  `json:"file"`
	ItemID          string  `json:"item_id,omitempty"`
	Provider        string  `json:"provider"`
	Transcript      string  `json:"transcript"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	TranscribedAt   string  `json:"transcribed_at"`
}

// Failure is one item that exhausted every provider.
type Failure struct {
	File   string `json:"file"`
	ItemID string `json:"item_id,omitempty"`
	Error  string `json:"error"`
}

// Summary answers a status request.
type Summary struct {
	RequestsPending  int `json:"requests_pending"`
	RequestsInflight int `json:"requests_inflight"`
	Results          int `json:"results"`
	MediaFiles       int `json:"media_files"`
}

// WorkResult is written exactly once per request identifier.
type WorkResult struct {
	ID                   string       `json:"id"`
	Status               ResultStatus `json:"status"`
	ProcessedCount       int          `json:"processed_count"`
	TotalDurationSeconds float64      `json:"total_duration_seconds"`
	Transcripts          []Transcript `json:"transcripts"`
	Failures             []Failure    `json:"failures,omitempty"`
	Summary              *Summary     `json:"summary,omitempty"`
	CompletedAt          time.Time    `json:"completed_at"`
	Error                string       `json:"error,omitempty"`
}

// ItemByID returns the transcript for itemID, if present.
func (r WorkResult) ItemByID(itemID string) (Transcript, bool) {
	for _, t := range r.Transcripts {
		if t.ItemID == itemID {
			return t, true
		}
	}
	return Transcript{}, false
}

// FailureByID returns the failure for itemID, if present.
func (r WorkResult) FailureByID(itemID string) (Failure, bool) {
	for _, f := range r.Failures {
		if f.ItemID == itemID {
			return f, true
		}
	}
	return Failure{}, false
}

// Validator checks documents against the compiled schema. A cue.Context is
// not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu      sync.Mutex
	ctx     *cue.Context
	request cue.Value
	result  cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile contract schema: %w", err)
	}
	request := schema.LookupPath(cue.ParsePath("#WorkRequest"))
	result := schema.LookupPath(cue.ParsePath("#WorkResult"))
	if !request.Exists() || !result.Exists() {
		return nil, errors.New("compile contract schema: missing definitions")
	}
	return &Validator{ctx: ctx, request: request, result: result}, nil
}

// DecodeRequest validates raw JSON and decodes it.
func (v *Validator) DecodeRequest(data []byte) (WorkRequest, error) {
	if err := v.check(v.request, "request", data); err != nil {
		return WorkRequest{}, err
	}
	var req WorkRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return WorkRequest{}, fmt.Errorf("%w: request: %v", ErrInvalid, err)
	}
	return req, nil
}

// EncodeRequest marshals req and validates the output.
func (v *Validator) EncodeRequest(req WorkRequest) ([]byte, error) {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := v.check(v.request, "request", data); err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// EncodeResult marshals res and validates the output before it may be written.
func (v *Validator) EncodeResult(res WorkResult) ([]byte, error) {
	if res.Transcripts == nil {
		res.Transcripts = []Transcript{}
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if err := v.check(v.result, "result", data); err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeResult validates raw JSON and decodes it.
func (v *Validator) DecodeResult(data []byte) (WorkResult, error) {
	if err := v.check(v.result, "result", data); err != nil {
		return WorkResult{}, err
	}
	var res WorkResult
	if err := json.Unmarshal(data, &res); err != nil {
		return WorkResult{}, fmt.Errorf("%w: result: %v", ErrInvalid, err)
	}
	return res, nil
}

func (v *Validator) check(schema cue.Value, kind string, data []byte) error {
	expr, err := cuejson.Extract(kind+".json", data)
	if err != nil {
		return fmt.Errorf("%w: %s is not valid JSON: %v", ErrInvalid, kind, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	doc := v.ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, kind, err)
	}
	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalid, kind, describe(err))
	}
	return nil
}

func describe(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}
