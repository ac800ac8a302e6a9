package protocol

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrorLiteral is the bare error payload some peers reply with instead of
// an error document.
var ErrorLiteral = []byte("ERROR")

// Field is one top level member of an RPC document.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// NewRequest builds `{"action":...}` followed by fields in the given order.
func NewRequest(action string, fields ...Field) ([]byte, error) {
	if action == "" {
		return nil, protocolErrorf("request is missing an action")
	}

	doc, err := sjson.SetBytes([]byte(`{}`), "action", action)
	if err != nil {
		return nil, protocolErrorf("build request: %v", err)
	}

	return setFields(doc, fields)
}

// Action returns the required "action" member of a request document.
func Action(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", protocolErrorf("request is not valid JSON")
	}

	action := gjson.GetBytes(body, "action")
	if action.Type != gjson.String || action.Str == "" {
		return "", protocolErrorf("request is missing an action")
	}

	return action.Str, nil
}

// SuccessResponse prefixes the members of result (a JSON object, or empty)
// with "status":"success".
func SuccessResponse(result []byte) ([]byte, error) {
	doc := []byte(`{"status":"success"}`)

	if len(bytes.TrimSpace(result)) == 0 {
		return doc, nil
	}

	parsed := gjson.ParseBytes(result)
	if !gjson.ValidBytes(result) || !parsed.IsObject() {
		return nil, protocolErrorf("result is not a JSON object")
	}

	var err error
	parsed.ForEach(func(key, value gjson.Result) bool {
		if key.Str == "status" {
			return true
		}
		doc, err = sjson.SetRawBytes(doc, EscapeKey(key.Str), []byte(value.Raw))
		return err == nil
	})

	if err != nil {
		return nil, protocolErrorf("build response: %v", err)
	}

	return doc, nil
}

// ErrorResponse builds `{"status":"error","message":msg}`.
func ErrorResponse(msg string) []byte {
	doc, err := sjson.SetBytes([]byte(`{"status":"error"}`), "message", msg)
	if err != nil {
		// message is a plain string, SetBytes cannot fail on it
		return []byte(`{"status":"error","message":"internal error"}`)
	}

	return doc
}

// CheckResponse turns a peer's error report into a RemoteError. Bodies
// without a status member are plain results.
func CheckResponse(body []byte) error {
	trimmed := bytes.TrimSpace(body)

	if bytes.Equal(trimmed, ErrorLiteral) {
		return &RemoteError{Message: string(trimmed)}
	}

	if !gjson.ValidBytes(trimmed) {
		return protocolErrorf("response is not valid JSON")
	}

	status := gjson.GetBytes(trimmed, "status")
	if status.Exists() && status.String() == StatusError {
		msg := gjson.GetBytes(trimmed, "message").String()
		if msg == "" {
			msg = "peer reported an error"
		}
		return &RemoteError{Message: msg}
	}

	return nil
}

func setFields(doc []byte, fields []Field) ([]byte, error) {
	var err error

	for _, f := range fields {
		if raw, ok := f.Value.(RawJSON); ok {
			doc, err = sjson.SetRawBytes(doc, EscapeKey(f.Key), raw)
		} else {
			doc, err = sjson.SetBytes(doc, EscapeKey(f.Key), f.Value)
		}

		if err != nil {
			return nil, protocolErrorf("set %q: %v", f.Key, err)
		}
	}

	return doc, nil
}

// RawJSON marks a Field value that is already encoded JSON.
type RawJSON []byte

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
	`|`, `\|`,
	`#`, `\#`,
	`@`, `\@`,
	`!`, `\!`,
	`=`, `\=`,
	`<`, `\<`,
	`>`, `\>`,
	`%`, `\%`,
	`:`, `\:`,
)

// EscapeKey makes a literal object key safe to use as a gjson/sjson path.
func EscapeKey(key string) string {
	return pathEscaper.Replace(key)
}
