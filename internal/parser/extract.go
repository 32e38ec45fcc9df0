package parser

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/studiowebux/perfhttp/internal/executor"
)

// ExtractVariables evaluates the step's JMESPath extractions against the
// outcome and stores the results as session variables
func ExtractVariables(step *Step, outcome *executor.Outcome, vr *VariableResolver) (map[string]string, error) {
	if len(step.Extract) == 0 {
		return nil, nil
	}

	extracted := make(map[string]string, len(step.Extract))
	for varName, jmesPath := range step.Extract {
		result, err := outcome.Query(jmesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to extract variable %s: %w", varName, err)
		}

		value, err := stringify(result)
		if err != nil {
			return nil, fmt.Errorf("variable %s: JMESPath %s: %w", varName, jmesPath, err)
		}
		extracted[varName] = value
	}

	for name, value := range extracted {
		vr.AddSessionVariable(name, value)
	}
	return extracted, nil
}

func stringify(result any) (string, error) {
	switch v := result.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case nil:
		return "", fmt.Errorf("returned null")
	default:
		// For complex types, marshal to JSON
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to convert extracted value to string: %w", err)
		}
		return string(jsonBytes), nil
	}
}
