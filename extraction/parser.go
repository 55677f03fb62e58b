package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go-document-verifier/models"
)

// The model's completion is untrusted free text. Before parsing we strip
// any Markdown code fences around the payload and then take the first
// balanced JSON object, so trailing explanatory prose does not break the
// attempt.

// StripCodeFences removes a surrounding Markdown code fence, including an
// optional language tag on the opening fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// drop a language tag like "json" on the opening fence line
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			firstLine := strings.TrimSpace(s[:idx])
			if firstLine != "" && !strings.ContainsAny(firstLine, "{}[]") {
				s = s[idx+1:]
			}
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// FirstJSONObject returns the first balanced JSON object found in s.
// Brace counting is string-aware so braces inside string values do not
// unbalance the scan.
func FirstJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in completion")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in completion")
}

// raw payload shapes use pointers so that null and absent fields are
// distinguishable from empty strings.

type identityPayload struct {
	Nombre          *string `json:"nombre"`
	Apellido        *string `json:"apellido"`
	Nacionalidad    *string `json:"nacionalidad"`
	FechaNacimiento *string `json:"fechaNacimiento"`
}

type summaryPayload struct {
	Nationality *string  `json:"nationality"`
	Age         *float64 `json:"age"`
}

// Parse turns a raw model completion into an ExtractionResult for the
// given variant. Invalid JSON (after fence stripping and first-object
// extraction) is an error; individual missing or null fields are not, they
// degrade to the not-found sentinel (identity variant) or stay nil
// (summary variant).
func Parse(variant Variant, completion string) (models.ExtractionResult, error) {
	cleaned := StripCodeFences(completion)
	obj, err := FirstJSONObject(cleaned)
	if err != nil {
		return models.ExtractionResult{}, err
	}

	if variant == VariantSummary {
		var payload summaryPayload
		if err := json.Unmarshal([]byte(obj), &payload); err != nil {
			return models.ExtractionResult{}, fmt.Errorf("failed to parse summary completion: %w", err)
		}
		summary := models.DocumentSummaryData{Nationality: payload.Nationality}
		if payload.Age != nil {
			// JSON numbers arrive as float64; round rather than truncate in
			// case the model reports a fractional age.
			age := int(math.Round(*payload.Age))
			summary.Age = &age
		}
		return models.ExtractionResult{Summary: &summary}, nil
	}

	var payload identityPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("failed to parse identity completion: %w", err)
	}
	return models.ExtractionResult{
		Identity: &models.IdentityDocumentData{
			GivenName:       orNotFound(payload.Nombre),
			FamilyName:      orNotFound(payload.Apellido),
			NationalityCode: orNotFound(payload.Nacionalidad),
			BirthDate:       orNotFound(payload.FechaNacimiento),
		},
	}, nil
}

func orNotFound(s *string) string {
	if s == nil || *s == "" {
		return models.NotFound
	}
	return *s
}
