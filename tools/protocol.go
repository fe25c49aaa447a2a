package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/runbookops/runbookd/core"
)

// Definition describes one callable operation: its name, what it does,
// and the JSON schema of its input.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

const (
	OpSearchRunbooks    = "search_runbooks"
	OpGetDecisionTree   = "get_decision_tree"
	OpGetProcedure      = "get_procedure"
	OpGetEscalationPath = "get_escalation_path"
	OpListSources       = "list_sources"
	OpSearchKnowledge   = "search_knowledge_base"
	OpRecordFeedback    = "record_resolution_feedback"
)

// Definitions lists every operation in the protocol surface.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        OpSearchRunbooks,
			Description: "Find runbooks matching an alert signature across all configured sources, ranked by confidence.",
			InputSchema: objectSchema(map[string]interface{}{
				"alert_type":       stringProp("Alert or incident type, e.g. disk-space-low"),
				"severity":         enumProp("Incident severity", "info", "low", "medium", "high", "critical"),
				"affected_systems": stringListProp("Systems affected by the incident"),
				"context":          stringProp("Free-text incident context"),
				"max_results":      intProp("Maximum matches to return (default 10, max 100)"),
			}, "alert_type", "severity", "affected_systems"),
		},
		{
			Name:        OpGetDecisionTree,
			Description: "Fetch the decision tree embedded in a runbook for guided diagnosis.",
			InputSchema: objectSchema(map[string]interface{}{
				"runbook_id": stringProp("Runbook identifier"),
				"scenario":   stringProp("Optional scenario hint applied to the tree"),
			}, "runbook_id"),
		},
		{
			Name:        OpGetProcedure,
			Description: "Fetch one procedure step with its related steps. Id format: <runbook-id>_<step-name>.",
			InputSchema: objectSchema(map[string]interface{}{
				"procedure_id": stringProp("Composite procedure id, e.g. rb-disk-space_check-usage"),
			}, "procedure_id"),
		},
		{
			Name:        OpGetEscalationPath,
			Description: "Resolve who to contact for an incident severity, honoring business hours and prior failed attempts.",
			InputSchema: objectSchema(map[string]interface{}{
				"severity":        enumProp("Incident severity", "info", "low", "medium", "high", "critical"),
				"system":          stringProp("Affected system, used to pick a team-specific path when configured"),
				"business_hours":  boolProp("Whether the incident falls within business hours"),
				"failed_attempts": intProp("Resolution attempts already made; two or more escalate one level"),
			}, "severity"),
		},
		{
			Name:        OpListSources,
			Description: "List configured documentation sources with health, latency and circuit-breaker state.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        OpSearchKnowledge,
			Description: "Free-text federated search across all sources, beyond structured runbooks.",
			InputSchema: objectSchema(map[string]interface{}{
				"query":       stringProp("Search query"),
				"categories":  stringListProp("Restrict to categories: runbook, procedure, guide, general"),
				"max_results": intProp("Maximum results to return (default 10, max 100)"),
			}, "query"),
		},
		{
			Name:        OpRecordFeedback,
			Description: "Record the outcome of following a runbook so future rankings improve.",
			InputSchema: objectSchema(map[string]interface{}{
				"runbook_id":              stringProp("Runbook identifier"),
				"procedure_id":            stringProp("Procedure step that was followed"),
				"outcome":                 enumProp("Resolution outcome", "success", "failure", "partial"),
				"resolution_time_minutes": numberProp("Minutes from alert to resolution"),
				"notes":                   stringProp("Free-text notes"),
			}, "runbook_id", "procedure_id", "outcome"),
		},
	}
}

// Dispatch routes a named operation to its implementation. Unknown
// names and malformed input both classify as validation failures.
func (t *Tools) Dispatch(ctx context.Context, name string, input json.RawMessage) (*Envelope, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	switch name {
	case OpSearchRunbooks:
		var in SearchRunbooksInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return t.SearchRunbooks(ctx, in)
	case OpGetDecisionTree:
		var in DecisionTreeInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return t.GetDecisionTree(ctx, in)
	case OpGetProcedure:
		var in ProcedureInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return t.GetProcedure(ctx, in)
	case OpGetEscalationPath:
		var in EscalationInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return t.GetEscalationPath(ctx, in)
	case OpListSources:
		return t.ListSources(ctx)
	case OpSearchKnowledge:
		var in KnowledgeSearchInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return t.SearchKnowledgeBase(ctx, in)
	case OpRecordFeedback:
		var in FeedbackInput
		if err := decodeInput(input, &in); err != nil {
			return nil, err
		}
		return t.RecordResolutionFeedback(ctx, in)
	}
	return nil, fmt.Errorf("unknown operation %q: %w", name, core.ErrValidation)
}

func decodeInput(raw json.RawMessage, into interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("malformed operation input: %s: %w", err, core.ErrValidation)
	}
	return nil
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func enumProp(desc string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc, "enum": values}
}

func stringListProp(desc string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": desc,
	}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func numberProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "number", "description": desc}
}

func boolProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}
