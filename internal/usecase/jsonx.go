package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"guidebot/internal/domain"
)

// ExtractJSON locates the first balanced JSON object in untrusted reasoner
// output and unmarshals it into v. Reasoner replies routinely wrap JSON in
// prose or markdown fences, so a plain json.Unmarshal is not enough.
//
// Every call site must have a typed fallback value ready: a non-nil error
// means "use the fallback", never "fail the turn".
func ExtractJSON(raw string, v any) error {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return domain.NewDomainError("ExtractJSON", domain.ErrInvalidInput, "no JSON object in reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(raw[start:i+1]), v); err != nil {
					return domain.NewDomainError("ExtractJSON", domain.ErrInvalidInput,
						fmt.Sprintf("unmarshal: %v", err))
				}
				return nil
			}
		}
	}

	return domain.NewDomainError("ExtractJSON", domain.ErrInvalidInput, "unbalanced JSON object")
}
