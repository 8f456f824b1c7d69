package agent

import (
	"encoding/json"

	"github.com/haasonsaas/parrot/pkg/models"
)

// mediaKey is the private result field carrying out-of-band media. It is
// removed before the result reaches the model.
const mediaKey = "_media"

// MediaHook receives media produced by tool calls while an exchange is
// still running.
type MediaHook func(ref models.MediaRef)

// AttachMedia adds ref to payload under the private media key and returns
// the encoded result. payload must encode to a JSON object.
func AttachMedia(payload any, ref models.MediaRef) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", err
	}
	encoded, err := json.Marshal(ref)
	if err != nil {
		return "", err
	}
	fields[mediaKey] = encoded
	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// extractMedia strips the media key from a result. Results that are not
// JSON objects, or carry no media, are returned unchanged.
func extractMedia(content string) (string, *models.MediaRef) {
	if len(content) == 0 || content[0] != '{' {
		return content, nil
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return content, nil
	}
	raw, ok := fields[mediaKey]
	if !ok {
		return content, nil
	}
	delete(fields, mediaKey)
	stripped, err := json.Marshal(fields)
	if err != nil {
		return content, nil
	}

	var ref models.MediaRef
	if err := json.Unmarshal(raw, &ref); err != nil || (ref.Path == "" && ref.URL == "") {
		return string(stripped), nil
	}
	return string(stripped), &ref
}
