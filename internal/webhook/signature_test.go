package webhook

import "testing"

func TestVerifySignatureAcceptsValid(t *testing.T) {
	body := []byte(`{"type":"call.started"}`)
	secret := "whsec_test"

	sig := ComputeSignature(secret, body)
	if !VerifySignature(secret, body, sig) {
		t.Error("valid signature rejected")
	}
	if !VerifySignature(secret, body, "sha256="+sig) {
		t.Error("prefixed signature rejected")
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte(`{"type":"call.started"}`)
	secret := "whsec_test"
	sig := ComputeSignature(secret, body)

	tests := []struct {
		name           string
		secret, header string
		body           []byte
	}{
		{"wrong secret", "whsec_other", sig, body},
		{"tampered body", secret, sig, []byte(`{"type":"call.ended"}`)},
		{"empty header", secret, "", body},
		{"empty secret", "", sig, body},
		{"not hex", secret, "zzzz", body},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.secret, tt.body, tt.header) {
				t.Error("signature should be rejected")
			}
		})
	}
}
