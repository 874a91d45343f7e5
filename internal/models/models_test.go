package models

import (
	"encoding/json"
	"testing"
)

func TestAPIResponseEnvelope(t *testing.T) {
	tests := []struct {
		name string
		resp APIResponse
		want string
	}{
		{"success", Success(map[string]string{"id": "s_1"}), `{"status":"ok","result":{"id":"s_1"}}`},
		{"success with message", SuccessWithMessage("created", nil), `{"status":"ok","message":"created"}`},
		{"error", Error("boom"), `{"status":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("encoded as %s, want %s", data, tt.want)
			}
		})
	}
}

func TestReceiptEncoding(t *testing.T) {
	data, err := json.Marshal(Receipt{To: "821012345678", Status: MessageStatusFailed, Time: 42})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"to":"821012345678","status":"failed","time":42}` {
		t.Errorf("unexpected receipt encoding %s", data)
	}
}
