package parser

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ami4go/ICAPP/internal/models"
)

// StripCodeFence removes a leading ``` or ```json marker and a trailing ``` marker.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[\"") {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// wholeObject decodes the entire (unfenced) text as the structured reply.
func wholeObject(raw string) (outcome, bool) {
	obj, ok := decodeObject(StripCodeFence(raw))
	if !ok {
		return outcome{}, false
	}
	reply, hasReply := obj["reply_text"].(string)
	meta, hasMeta := obj["metadata"].(map[string]interface{})
	if !hasReply || !hasMeta {
		return outcome{}, false
	}
	return outcome{reply: reply, metadata: metadataFrom(meta)}, true
}

// embeddedObject looks at the last top-level {...} in the text.
func embeddedObject(raw string) (outcome, bool) {
	start, end, found := lastObjectCandidate(raw)
	if !found {
		return outcome{}, false
	}
	candidate := raw[start:end]
	rest := strings.TrimSpace(raw[:start] + raw[end:])

	obj, ok := decodeObject(candidate)
	if !ok {
		return outcome{reply: raw, metadata: models.DefaultTurnMetadata()}, true
	}

	_, hasMeta := obj["metadata"]
	switch {
	case hasMeta:
		reply, _ := obj["reply_text"].(string)
		meta, _ := obj["metadata"].(map[string]interface{})
		if strings.TrimSpace(reply) == "" {
			reply = rest
		}
		return outcome{reply: reply, metadata: metadataFrom(meta)}, true
	case hasKey(obj, "revealed") || hasKey(obj, "status"):
		return outcome{reply: rest, metadata: metadataFrom(obj)}, true
	default:
		return outcome{reply: raw, metadata: models.DefaultTurnMetadata()}, true
	}
}

// plainText treats the whole text as the reply.
func plainText(raw string) (outcome, bool) {
	return outcome{reply: raw, metadata: models.DefaultTurnMetadata()}, true
}

// lastObjectCandidate returns the byte range of the last brace-balanced object
// at top level. Braces inside JSON strings are ignored once an object is open.
func lastObjectCandidate(text string) (start, end int, found bool) {
	depth := 0
	open := -1
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
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
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				open = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				start, end, found = open, i+1, true
			}
		}
	}
	return start, end, found
}

func decodeObject(text string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func hasKey(obj map[string]interface{}, key string) bool {
	_, ok := obj[key]
	return ok
}

// metadataFrom coerces a loosely typed metadata object into TurnMetadata.
func metadataFrom(obj map[string]interface{}) models.TurnMetadata {
	md := models.DefaultTurnMetadata()
	if obj == nil {
		return md
	}
	switch v := obj["revealed"].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				md.Revealed = append(md.Revealed, s)
			}
		}
	case string:
		md.Revealed = append(md.Revealed, v)
	}
	switch v := obj["needs_escalation"].(type) {
	case bool:
		md.NeedsEscalation = v
	case string:
		md.NeedsEscalation, _ = strconv.ParseBool(strings.TrimSpace(v))
	}
	if s, ok := obj["status"].(string); ok {
		md.Status = models.SessionStatus(s)
	}
	md.Normalize()
	return md
}
