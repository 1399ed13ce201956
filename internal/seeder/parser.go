package seeder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/heartmarshall/dictsync-backend/internal/domain"
)

// errSkipLine signals that a line carries no word (blank or comment).
var errSkipLine = errors.New("skip line")

// parseLine decodes one JSONL line into an attribute bag. Lines starting with
// '#' are comments. Numbers and booleans are stored in their JSON text form;
// nested values are rejected. The result passes domain.ValidateAttributes, so
// one oversized word cannot fail a whole chunk.
func parseLine(line string) (domain.Attributes, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, errSkipLine
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("decode word: %w", err)
	}

	attrs := make(domain.Attributes, len(raw))
	for name, v := range raw {
		switch v := v.(type) {
		case string:
			attrs[name] = v
		case float64:
			attrs[name] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			attrs[name] = strconv.FormatBool(v)
		case nil:
		default:
			return nil, fmt.Errorf("attribute %q: nested values are not supported", name)
		}
	}

	if err := domain.ValidateAttributes(attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
