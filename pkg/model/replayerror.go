package model

import "fmt"

// ReplayErrorType classifies an inconsistency found while replaying a
// stored dialog against current definitions.
type ReplayErrorType string

const (
	ReplayErrorEntityUndefined            ReplayErrorType = "entity_undefined"
	ReplayErrorEntityEmpty                ReplayErrorType = "entity_empty"
	ReplayErrorEntityUnexpectedMultivalue ReplayErrorType = "entity_unexpected_multivalue"
	ReplayErrorActionUndefined            ReplayErrorType = "action_undefined"
	ReplayErrorActionUnavailable          ReplayErrorType = "action_unavailable"
	ReplayErrorActionAfterWait            ReplayErrorType = "action_after_wait"
	ReplayErrorTwoUserInputs              ReplayErrorType = "two_user_inputs"
	ReplayErrorInputAfterNonWait          ReplayErrorType = "input_after_non_wait"
	ReplayErrorActionStub                 ReplayErrorType = "action_stub"
	ReplayErrorAPIException               ReplayErrorType = "api_exception"
	ReplayErrorAPIUndefined               ReplayErrorType = "api_undefined"
	ReplayErrorAPIMalformed               ReplayErrorType = "api_malformed"
	ReplayErrorAPIPlaceholder             ReplayErrorType = "api_placeholder"
	ReplayErrorAPIBadCard                 ReplayErrorType = "api_bad_card"
	ReplayErrorSetEntityException         ReplayErrorType = "set_entity_exception"
)

// ReplayError is a classified, non-fatal inconsistency. Replay accumulates
// these alongside a best-effort reconstruction; it never aborts on one.
type ReplayError struct {
	Type ReplayErrorType `json:"type"`
	// Value names the offending entity, action, callback, or template.
	Value string `json:"value,omitempty"`
	// Detail carries the captured exception text for API errors.
	Detail string `json:"detail,omitempty"`
}

// Message renders a human-readable description of the error.
func (e *ReplayError) Message() string {
	switch e.Type {
	case ReplayErrorEntityUndefined:
		return fmt.Sprintf("entity %q does not exist in the model", e.Value)
	case ReplayErrorEntityEmpty:
		return fmt.Sprintf("required entity %q has no value in memory", e.Value)
	case ReplayErrorEntityUnexpectedMultivalue:
		return fmt.Sprintf("entity %q is labeled multiple times but is not multivalue", e.Value)
	case ReplayErrorActionUndefined:
		return fmt.Sprintf("action %q does not exist in the model", e.Value)
	case ReplayErrorActionUnavailable:
		return fmt.Sprintf("action %q is not available given the entities in memory", e.Value)
	case ReplayErrorActionAfterWait:
		return "an action follows a wait action within the same round"
	case ReplayErrorTwoUserInputs:
		return "two consecutive user inputs with no action between them"
	case ReplayErrorInputAfterNonWait:
		return "user input follows a non-wait action"
	case ReplayErrorActionStub:
		return fmt.Sprintf("imported action stub %q has not been resolved", e.Value)
	case ReplayErrorAPIException:
		return fmt.Sprintf("callback %q threw an exception: %s", e.Value, e.Detail)
	case ReplayErrorAPIUndefined:
		return fmt.Sprintf("callback %q is not registered", e.Value)
	case ReplayErrorAPIMalformed:
		return fmt.Sprintf("callback %q returned a logic value but declares no render function", e.Value)
	case ReplayErrorAPIPlaceholder:
		return fmt.Sprintf("placeholder API %q is not backed by code yet", e.Value)
	case ReplayErrorAPIBadCard:
		return fmt.Sprintf("card template %q could not be rendered: %s", e.Value, e.Detail)
	case ReplayErrorSetEntityException:
		return fmt.Sprintf("set-entity action failed: %s", e.Detail)
	default:
		return string(e.Type)
	}
}

func (e *ReplayError) key() string {
	return string(e.Type) + "|" + e.Value + "|" + e.Detail
}

// DedupReplayErrors drops repeated occurrences of the same error, keeping
// first-seen order.
func DedupReplayErrors(errs []*ReplayError) []*ReplayError {
	seen := make(map[string]struct{}, len(errs))
	out := make([]*ReplayError, 0, len(errs))
	for _, e := range errs {
		if e == nil {
			continue
		}
		k := e.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}
