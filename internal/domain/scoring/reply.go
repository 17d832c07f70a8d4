package scoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/okian/evalbench/internal/domain/model"
)

// ExtractObject returns the first balanced {...} in s, skipping braces that
// appear inside JSON strings. It reports false when no object closes.
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Parse validates a raw reply against the panel's schema and returns the
// backend's verdict. Every failure wraps ErrBackendInvalidResponse.
func (p *Panel) Parse(reply string) (*model.ModelScore, error) {
	obj, ok := ExtractObject(reply)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrBackendInvalidResponse)
	}

	res, err := p.schema.Validate(gojsonschema.NewStringLoader(obj))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendInvalidResponse, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrBackendInvalidResponse, strings.Join(msgs, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendInvalidResponse, err)
	}

	scores := make(map[string]int, len(p.Rubric))
	for _, c := range p.Rubric {
		v, err := criterionValue(fields[c.Name])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBackendInvalidResponse, c.Name, err)
		}
		scores[c.Name] = v
	}
	desc, _ := fields[JustificationKey].(string)
	if strings.TrimSpace(desc) == "" {
		return nil, fmt.Errorf("%w: empty %s", ErrBackendInvalidResponse, JustificationKey)
	}

	return &model.ModelScore{
		Scores:      scores,
		FinalScore:  FinalScore(p.Rubric, scores),
		Description: desc,
	}, nil
}

func criterionValue(v any) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("not a number: %v", v)
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %s", n)
	}
	if f < 0 || f > 100 {
		return 0, fmt.Errorf("out of range: %s", n)
	}
	return int(f), nil
}
