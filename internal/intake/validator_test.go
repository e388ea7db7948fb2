package intake

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSchema(t *testing.T, dir, name, schema string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(schema), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	dir := t.TempDir()
	writeSchema(t, dir, "chat.v1.json", `{
		"type": "object",
		"required": ["user_id", "message"],
		"properties": {
			"user_id": {"type": "string", "minLength": 1},
			"message": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)
	writeSchema(t, dir, "whatsapp.v1.json", `{
		"type": "object",
		"required": ["user_id", "message", "recipient"],
		"properties": {
			"user_id": {"type": "string"},
			"message": {"type": "string"},
			"recipient": {"type": "string", "pattern": "^\\+?[0-9]{7,15}$"}
		}
	}`)
	v, err := NewValidator(dir)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateIntakeAcceptsValidPayload(t *testing.T) {
	v := newTestValidator(t)
	payload := json.RawMessage(`{"user_id":"u-1","message":"send invoice to Maria"}`)
	if err := v.ValidateIntake("chat", payload); err != nil {
		t.Errorf("valid chat payload: %v", err)
	}
}

func TestValidateIntakeRejections(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		name    string
		channel string
		payload string
	}{
		{"missing required field", "chat", `{"user_id":"u-1"}`},
		{"unexpected field", "chat", `{"user_id":"u-1","message":"x","extra":true}`},
		{"bad phone number", "whatsapp", `{"user_id":"u-1","message":"x","recipient":"not-a-phone"}`},
		{"unknown channel", "carrier-pigeon", `{"user_id":"u-1","message":"x"}`},
		{"invalid json", "chat", `{"user_id":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateIntake(tc.channel, json.RawMessage(tc.payload))
			if !errors.Is(err, ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}
}

func TestNewValidatorMissingDir(t *testing.T) {
	if _, err := NewValidator(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("missing schema dir should fail")
	}
}
