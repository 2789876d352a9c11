package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

const (
	TriageBatchSchemaVersion = "triage_batch_v1"
	TriageBatchPromptID      = "triage_batch_prompt_v1"
)

// BatchTriageOutput holds the entries that survived normalization, keyed by
// input id.
type BatchTriageOutput struct {
	Results      map[string]TriageOutput `json:"results"`
	ItemCount    int                     `json:"item_count"`
	SuccessCount int                     `json:"success_count"`
}

var triageBatchSchema = schemaInfo{
	version:  TriageBatchSchemaVersion,
	promptID: TriageBatchPromptID,
	role:     triageSchema.role + " You score several items at once, independently of each other.",
	instructions: `
The payload holds "items", each with an "id". Return exactly one entry in "results" per item,
echoing its "id" unchanged. Score each with an "aha_score" from 0 to 100, set "is_relevant",
"is_novel" and "should_deep_summarize", and give a short "reason".`,
	shape: `{
  "schema_version": string, "prompt_id": string, "provider": string, "model": string,
  "results": [
    {"id": string, "aha_score": integer 0-100, "is_relevant": boolean, "is_novel": boolean,
     "should_deep_summarize": boolean, "reason": string, "categories": [string], "tags": [string]}
  ]
}`,
	jsonSchema: objectSchema(map[string]any{
		"schema_version": stringSchema(),
		"prompt_id":      stringSchema(),
		"provider":       stringSchema(),
		"model":          stringSchema(),
		"results":        arraySchema(triageBatchEntrySchema()),
	}, "results"),
}

func triageBatchEntrySchema() map[string]any {
	properties := triageProperties()
	properties["id"] = stringSchema()
	return objectSchema(properties, append([]string{"id"}, triageRequired...)...)
}

type triageBatchPayload struct {
	Items []TriageInput `json:"items"`
}

// TriageBatch scores all candidates in one call. Entries with unknown ids or
// invalid fields are dropped; the batch only fails when none survive.
func (e *Executor) TriageBatch(ctx context.Context, tier domain.BudgetTier, inputs []TriageInput) (Result[BatchTriageOutput], error) {
	if len(inputs) == 0 {
		return Result[BatchTriageOutput]{}, domain.InvalidArgument("triage batch needs at least one item")
	}
	if len(inputs) > e.limits.BatchMaxItems {
		return Result[BatchTriageOutput]{}, domain.InvalidArgument(fmt.Sprintf("triage batch has %d items; the limit is %d", len(inputs), e.limits.BatchMaxItems))
	}

	known := make(map[string]struct{}, len(inputs))
	payload := triageBatchPayload{Items: make([]TriageInput, 0, len(inputs))}
	for _, input := range inputs {
		id := strings.TrimSpace(input.ID)
		if id == "" {
			return Result[BatchTriageOutput]{}, domain.InvalidArgument("every triage batch item needs an id")
		}
		if _, dup := known[id]; dup {
			return Result[BatchTriageOutput]{}, domain.InvalidArgument(fmt.Sprintf("duplicate triage batch id %q", id))
		}
		known[id] = struct{}{}
		input.ID = id
		payload.Items = append(payload.Items, e.triagePayload(input, e.limits.BatchBodyChars))
	}

	return run(ctx, e, job[BatchTriageOutput]{
		task:    domain.TaskTriage,
		tier:    tier,
		schema:  triageBatchSchema,
		payload: payload,
		backoff: batchBackoff,
		normalize: func(obj map[string]any, ref domain.ModelRef) (BatchTriageOutput, error) {
			return e.normalizeTriageBatch(obj, ref, known)
		},
	})
}

func (e *Executor) normalizeTriageBatch(obj map[string]any, ref domain.ModelRef, known map[string]struct{}) (BatchTriageOutput, error) {
	if _, err := checkVersion(obj, TriageBatchSchemaVersion, TriageBatchPromptID); err != nil {
		return BatchTriageOutput{}, err
	}
	entries, err := objectList(obj, "results")
	if err != nil {
		return BatchTriageOutput{}, err
	}

	out := BatchTriageOutput{
		Results:   make(map[string]TriageOutput, len(known)),
		ItemCount: len(known),
	}
	for _, entry := range entries {
		id := idOf(entry)
		if _, ok := known[id]; !ok {
			e.logger.Printf("triage batch dropped entry id=%q reason=unknown id", id)
			continue
		}
		if _, seen := out.Results[id]; seen {
			e.logger.Printf("triage batch dropped entry id=%q reason=duplicate", id)
			continue
		}
		normalized, err := normalizeTriage(upgradeTriage(entry, triageLayout(entry)), ref)
		if err != nil {
			e.logger.Printf("triage batch dropped entry id=%q reason=%q", id, err.Error())
			continue
		}
		out.Results[id] = normalized
	}
	out.SuccessCount = len(out.Results)
	if out.SuccessCount == 0 {
		return BatchTriageOutput{}, fmt.Errorf("no batch entry survived normalization")
	}
	return out, nil
}

// triageLayout reports which triage layout a batch entry uses. Entries rarely
// carry their own schema_version, so the v0 field names are checked too.
func triageLayout(entry map[string]any) string {
	if version, _ := entry["schema_version"].(string); strings.TrimSpace(version) == triageSchemaV0 {
		return triageSchemaV0
	}
	if _, current := entry["aha_score"]; !current {
		if _, legacy := entry["score"]; legacy {
			return triageSchemaV0
		}
	}
	return TriageSchemaVersion
}
