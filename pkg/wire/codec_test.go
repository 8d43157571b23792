package wire

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"ValidRequest", Envelope{Kind: KindRequest, ID: 1}, false},
		{"ValidResponse", Envelope{Kind: KindResponse, ID: 7}, false},
		{"ValidError", Envelope{Kind: KindError, ID: 7}, false},
		{"ValidFnf", Envelope{Kind: KindFireAndForget}, false},
		{"RequestWithZeroID", Envelope{Kind: KindRequest, ID: 0}, true},
		{"FnfWithID", Envelope{Kind: KindFireAndForget, ID: 3}, true},
		{"UnknownKind", Envelope{Kind: "stream", ID: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeDecodeRequest(t *testing.T) {
	body := NewSignCertificateRequest("-----BEGIN CERTIFICATE REQUEST-----", "/data/app/flipper/")

	data, err := EncodeRequest(42, body)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	env, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Kind != KindRequest || env.ID != 42 {
		t.Errorf("envelope = %+v, want request id 42", env)
	}

	var got SignCertificateRequest
	if err := json.Unmarshal(env.Body, &got); err != nil {
		t.Fatalf("body unmarshal: %v", err)
	}
	if got.Method != SignCertificateMethod {
		t.Errorf("method = %q, want %q", got.Method, SignCertificateMethod)
	}
	if got.Destination != "/data/app/flipper/" {
		t.Errorf("destination = %q", got.Destination)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := DecodeEnvelope(nil); err == nil {
		t.Error("expected error for empty frame")
	}
	if _, err := DecodeEnvelope([]byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestDecodeErrorBody(t *testing.T) {
	t.Run("Structured", func(t *testing.T) {
		raw, _ := json.Marshal(ErrorBody{Message: "signing failed"})
		if got := DecodeErrorBody(raw); got != "signing failed" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("PlainString", func(t *testing.T) {
		// Legacy desktops reply with a bare JSON string.
		if got := DecodeErrorBody(json.RawMessage(`"not implemented"`)); got != NotImplementedMessage {
			t.Errorf("got %q", got)
		}
	})
}

func TestRemoteErrorUnimplemented(t *testing.T) {
	e := &RemoteError{Message: NotImplementedMessage}
	if !e.Unimplemented() {
		t.Error("expected Unimplemented() == true")
	}
	e = &RemoteError{Message: "certificate signing failed"}
	if e.Unimplemented() {
		t.Error("expected Unimplemented() == false")
	}
}
