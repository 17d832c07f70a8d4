package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/xeipuuv/gojsonschema"

	"github.com/okian/evalbench/internal/domain/model"
)

var instructionTemplate = template.Must(template.New("instruction").Parse(
	`You are an impartial judge scoring a competition submission.

Challenge brief:
{{.Brief}}

Score the submission on each criterion below with an integer from 0 to 100.
{{range .Criteria}}
- {{.Name}} (weight {{printf "%.2f" .Weight}}): {{.Description}}
{{- end}}

Reply with a single JSON object and nothing else. It must validate against this JSON Schema:
{{.Schema}}

Every criterion name is a required integer field. The "{{.JustificationKey}}" field is a
required, non-empty justification of the scores.
`))

// Panel holds everything derived from one rubric and brief: the shared
// instruction sent to every backend and the compiled schema replies must
// satisfy.
type Panel struct {
	Rubric      []model.RubricCriterion
	Instruction string
	schema      *gojsonschema.Schema
}

// ReplySchema returns the JSON Schema document for replies to rubric.
func ReplySchema(rubric []model.RubricCriterion) map[string]any {
	props := make(map[string]any, len(rubric)+1)
	required := make([]string, 0, len(rubric)+1)
	for _, c := range rubric {
		props[c.Name] = map[string]any{
			"type":    "integer",
			"minimum": 0,
			"maximum": 100,
		}
		required = append(required, c.Name)
	}
	props[JustificationKey] = map[string]any{
		"type":      "string",
		"minLength": 1,
	}
	required = append(required, JustificationKey)
	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// NewPanel validates rubric and brief, renders the instruction and compiles the schema.
func NewPanel(rubric []model.RubricCriterion, brief string) (*Panel, error) {
	if err := ValidateRubric(rubric); err != nil {
		return nil, err
	}
	if strings.TrimSpace(brief) == "" {
		return nil, fmt.Errorf("%w: empty brief", ErrInvalidRubric)
	}
	doc := ReplySchema(rubric)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile reply schema: %w", err)
	}
	pretty, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode reply schema: %w", err)
	}

	var buf bytes.Buffer
	err = instructionTemplate.Execute(&buf, struct {
		Brief            string
		Criteria         []model.RubricCriterion
		Schema           string
		JustificationKey string
	}{
		Brief:            strings.TrimSpace(brief),
		Criteria:         rubric,
		Schema:           string(pretty),
		JustificationKey: JustificationKey,
	})
	if err != nil {
		return nil, fmt.Errorf("render instruction: %w", err)
	}
	return &Panel{Rubric: rubric, Instruction: buf.String(), schema: schema}, nil
}
