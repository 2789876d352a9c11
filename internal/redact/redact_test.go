package redact

import (
	"strings"
	"testing"
)

func TestApplyScrubsCredentials(t *testing.T) {
	cases := map[string]string{
		"bearer":  "Authorization: Bearer abc.def.ghi",
		"openai":  "key sk-proj-ABCDEFGHIJKLMNOPQRSTUV was rejected",
		"json":    `{"api_key":"super-secret-value","x":1}`,
		"anthkey": "x-api-key: sk-ant-REDACTED",
	}
	secrets := []string{"abc.def.ghi", "ABCDEFGHIJKLMNOPQRSTUV", "super-secret-value", "0123456789abcdefghij"}
	for name, input := range cases {
		out := String(input)
		for _, secret := range secrets {
			if strings.Contains(out, secret) {
				t.Fatalf("%s: secret %q leaked in %q", name, secret, out)
			}
		}
	}
}

func TestApplyKeepsPlainText(t *testing.T) {
	input := `{"error":{"message":"model overloaded","type":"server_error"}}`
	if out := String(input); out != input {
		t.Fatalf("unexpected rewrite: %q", out)
	}
}

func TestCustomRules(t *testing.T) {
	r := New(`tenant-[0-9]+`, "(")
	if out := r.Apply("tenant-42 failed"); out != "[REDACTED_CUSTOM] failed" {
		t.Fatalf("unexpected output %q", out)
	}
}
