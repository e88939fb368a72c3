package providers

import "strings"

// Some providers reject valid JSON Schema keywords in tool parameter
// schemas. Schemas are cleaned per provider before dispatch.
var (
	geminiUnsupportedKeys    = []string{"$ref", "$defs", "additionalProperties", "examples", "default"}
	anthropicUnsupportedKeys = []string{"$ref", "$defs"}
)

// CleanToolSchemas returns a copy of tools with provider-incompatible
// JSON Schema fields removed from each tool's parameters. Providers
// that need no cleaning get the original slice back.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []ToolDefinition {
	removeKeys := unsupportedKeysForProvider(providerName)
	if removeKeys == nil || len(tools) == 0 {
		return tools
	}

	cleaned := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		cleaned[i] = ToolDefinition{
			Type: t.Type,
			Function: ToolFunctionSchema{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  cleanSchema(t.Function.Parameters, removeKeys),
			},
		}
	}
	return cleaned
}

func unsupportedKeysForProvider(name string) []string {
	switch {
	case name == "gemini" || strings.HasPrefix(name, "gemini-"):
		return geminiUnsupportedKeys
	case name == "anthropic":
		return anthropicUnsupportedKeys
	default:
		return nil
	}
}

// cleanSchema recursively removes unsupported keys from a JSON Schema map.
func cleanSchema(schema map[string]interface{}, removeKeys []string) map[string]interface{} {
	if schema == nil {
		return nil
	}

	result := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		removed := false
		for _, rk := range removeKeys {
			if k == rk {
				removed = true
				break
			}
		}
		if removed {
			continue
		}

		switch val := v.(type) {
		case map[string]interface{}:
			result[k] = cleanSchema(val, removeKeys)
		case []interface{}:
			items := make([]interface{}, len(val))
			for i, item := range val {
				if m, ok := item.(map[string]interface{}); ok {
					items[i] = cleanSchema(m, removeKeys)
				} else {
					items[i] = item
				}
			}
			result[k] = items
		default:
			result[k] = v
		}
	}
	return result
}
