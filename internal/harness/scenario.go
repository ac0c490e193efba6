package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nazar-pal/breadly-sub000/internal/lifecycle"
)

// Scenario is a replayable lifecycle script.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Initial is the starting state in lifecycle.MarshalState shape.
	// Defaults to uninitialized.
	Initial map[string]any `yaml:"initial,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step applies exactly one of Event or Conditions.
type Step struct {
	// Event is an explicit event in lifecycle.MarshalEvent shape.
	Event map[string]any `yaml:"event,omitempty"`

	// Conditions is a snapshot the event is derived from.
	Conditions *Conditions `yaml:"conditions,omitempty"`

	// Expect is the state kind the step must land in, if set.
	Expect lifecycle.Kind `yaml:"expect,omitempty"`
}

// Conditions mirrors lifecycle.Conditions with YAML names.
type Conditions struct {
	UserID              string    `yaml:"user_id"`
	IsAnonymous         bool      `yaml:"is_anonymous"`
	IsPremium           bool      `yaml:"is_premium"`
	EntitlementVerified bool      `yaml:"entitlement_verified"`
	GuestID             string    `yaml:"guest_id"`
	HasGuestData        bool      `yaml:"has_guest_data"`
	NeedsSeed           bool      `yaml:"needs_seed"`
	HasUploadQueue      bool      `yaml:"has_upload_queue"`
	ObservedAt          time.Time `yaml:"observed_at"`
}

func (c Conditions) toLifecycle() lifecycle.Conditions {
	return lifecycle.Conditions{
		UserID:              c.UserID,
		IsAnonymous:         c.IsAnonymous,
		IsPremium:           c.IsPremium,
		EntitlementVerified: c.EntitlementVerified,
		GuestID:             c.GuestID,
		HasGuestData:        c.HasGuestData,
		NeedsSeed:           c.NeedsSeed,
		HasUploadQueue:      c.HasUploadQueue,
		ObservedAt:          c.ObservedAt,
	}
}

// Assertion validates the replayed trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// State is the expected final state (final_state).
	State map[string]any `yaml:"state,omitempty"`

	// Kinds is the expected order of entered kinds (trace_order).
	Kinds []lifecycle.Kind `yaml:"kinds,omitempty"`

	// Kind and Count are used by trace_count.
	Kind  lifecycle.Kind `yaml:"kind,omitempty"`
	Count int            `yaml:"count,omitempty"`

	// Mode is the expected final mode (mode).
	Mode lifecycle.Mode `yaml:"mode,omitempty"`

	// SyncActive is the expected final IsSyncActive (sync_active).
	SyncActive *bool `yaml:"sync_active,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertTraceOrder = "trace_order"
	AssertTraceCount = "trace_count"
	AssertMode       = "mode"
	AssertSyncActive = "sync_active"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that every
// embedded state and event decodes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if s.Initial != nil {
		if _, err := decodeState(s.Initial); err != nil {
			return fmt.Errorf("initial: %w", err)
		}
	}

	for i, step := range s.Steps {
		switch {
		case step.Event != nil && step.Conditions != nil:
			return fmt.Errorf("steps[%d]: event and conditions are mutually exclusive", i)
		case step.Event == nil && step.Conditions == nil:
			return fmt.Errorf("steps[%d]: event or conditions is required", i)
		case step.Event != nil:
			if _, err := decodeEvent(step.Event); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFinalState:
		if len(a.State) == 0 {
			return fmt.Errorf("assertions[%d]: state is required for final_state", index)
		}
		if _, err := decodeState(a.State); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertMode:
		if a.Mode == "" {
			return fmt.Errorf("assertions[%d]: mode is required for mode", index)
		}
	case AssertSyncActive:
		if a.SyncActive == nil {
			return fmt.Errorf("assertions[%d]: sync_active is required for sync_active", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// decodeState converts a YAML mapping to a State via its JSON shape.
func decodeState(m map[string]any) (lifecycle.State, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return lifecycle.UnmarshalState(data)
}

// decodeEvent converts a YAML mapping to an Event via its JSON shape.
func decodeEvent(m map[string]any) (lifecycle.Event, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return lifecycle.UnmarshalEvent(data)
}
