// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"fmt"
	"reflect"
)

// validateParams checks params against the subset of JSON schema the tool
// definitions use: required fields, primitive types and enums. A nil or
// non-object schema accepts anything.
func validateParams(tool string, schema map[string]any, params map[string]any) error {
	if schema == nil {
		return nil
	}

	var problems []string

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := params[name]; !present {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", name))
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range params {
		propSchema, known := properties[name]
		if !known {
			if properties != nil {
				problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
			}
			continue
		}
		prop, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}
		problems = append(problems, checkValue(name, prop, value)...)
	}

	if len(problems) > 0 {
		return &InvalidParametersError{Tool: tool, Problems: problems}
	}
	return nil
}

func checkValue(name string, prop map[string]any, value any) []string {
	var problems []string

	if typeName, ok := prop["type"].(string); ok {
		if !matchesType(typeName, value) {
			problems = append(problems, fmt.Sprintf("parameter %q: expected %s, got %T", name, typeName, value))
			return problems
		}
	}

	if enum, ok := prop["enum"].([]any); ok {
		matched := false
		for _, allowed := range enum {
			if reflect.DeepEqual(allowed, value) || looseEqual(allowed, value) {
				matched = true
				break
			}
		}
		if !matched {
			problems = append(problems, fmt.Sprintf("parameter %q: value %v not in enum %v", name, value, enum))
		}
	}
	return problems
}

// matchesType maps Go dynamic types onto JSON schema type names. JSON
// decoding yields float64 for every number, so integer accepts whole
// floats.
func matchesType(typeName string, value any) bool {
	switch typeName {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isNumeric(value)
	case "integer":
		switch n := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		case float32:
			return n == float32(int64(n))
		default:
			return false
		}
	case "array":
		if value == nil {
			return false
		}
		return reflect.TypeOf(value).Kind() == reflect.Slice
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// looseEqual compares enum members across the int/float64 boundary JSON
// decoding introduces.
func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
