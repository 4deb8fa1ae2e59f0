package message

import (
	"encoding/json"
	"testing"
)

func TestID_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		id   *ID
		want string
	}{
		{"string", StringID("Q1"), `"Q1"`},
		{"number", NumberID(42), `42`},
		{"nil", nil, `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.id)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal() = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		want     string
		isString bool
	}{
		{`"abc"`, "abc", true},
		{`7`, "7", false},
		{`7.0`, "7", false},
		{`null`, "", false},
	}
	for _, tt := range tests {
		var id ID
		if err := json.Unmarshal([]byte(tt.input), &id); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
		}
		if id.String() != tt.want {
			t.Errorf("Unmarshal(%s).String() = %q, want %q", tt.input, id.String(), tt.want)
		}
		if id.IsString() != tt.isString {
			t.Errorf("Unmarshal(%s).IsString() = %v", tt.input, id.IsString())
		}
	}

	var id ID
	if err := json.Unmarshal([]byte(`{"a":1}`), &id); err == nil {
		t.Error("expected error for object id")
	}
}

func TestID_NilString(t *testing.T) {
	var id *ID
	if id.String() != "" {
		t.Errorf("nil ID String() = %q, want empty", id.String())
	}
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(StringID("1"), "QueueStatus", map[string]int{"limit": 5})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if req.JSONRPC != Version || req.Method != "QueueStatus" {
		t.Errorf("unexpected request %+v", req)
	}
	if string(req.Params) != `{"limit":5}` {
		t.Errorf("Params = %s", req.Params)
	}
	if req.IsNotification() {
		t.Error("request with id should not be a notification")
	}

	req, _ = NewRequest(nil, "Status", nil)
	if req.Params != nil {
		t.Errorf("Params = %s, want nil", req.Params)
	}
	if !req.IsNotification() {
		t.Error("request without id should be a notification")
	}

	if _, err := NewRequest(nil, "Status", make(chan int)); err == nil {
		t.Error("expected error for unmarshalable params")
	}
}

func TestNewRequest_RawParams(t *testing.T) {
	raw := json.RawMessage(`{"url":"http://x"}`)
	req, err := NewRequest(NumberID(1), "StopPersistentChannel", raw)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if string(req.Params) != string(raw) {
		t.Errorf("Params = %s, want %s", req.Params, raw)
	}
}

func TestResponses(t *testing.T) {
	ok, err := NewSuccessResponse(StringID("1"), map[string]string{"status": "Waiting"})
	if err != nil {
		t.Fatalf("NewSuccessResponse() error = %v", err)
	}
	if ok.IsError() {
		t.Error("success response reported as error")
	}

	empty, _ := NewSuccessResponse(StringID("1"), nil)
	if empty.Result != nil {
		t.Errorf("Result = %s, want nil", empty.Result)
	}

	bad := NewErrorResponse(StringID("2"), ErrMethodNotFound("Bogus"))
	if !bad.IsError() || bad.Error.Code != MethodNotFound {
		t.Errorf("unexpected error response %+v", bad)
	}
}

func TestNewNotification(t *testing.T) {
	n, err := NewNotification("Signal", map[string]string{"refId": "c1"})
	if err != nil {
		t.Fatalf("NewNotification() error = %v", err)
	}
	data, _ := json.Marshal(n)

	parsed, err := ParseNotification(data)
	if err != nil {
		t.Fatalf("ParseNotification() error = %v", err)
	}
	if parsed.Method != "Signal" || string(parsed.Params) != `{"refId":"c1"}` {
		t.Errorf("unexpected notification %+v", parsed)
	}

	if _, err := ParseNotification([]byte(`{"jsonrpc":"1.0","method":"Signal"}`)); err == nil {
		t.Error("expected version error")
	}
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"jsonrpc":"2.0","id":"1","method":"Status"}`, false},
		{"notification", `{"jsonrpc":"2.0","method":"Status"}`, false},
		{"invalid json", `{`, true},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"Status"}`, true},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequest_RoundTrip(t *testing.T) {
	orig, _ := NewRequest(StringID("Q9"), "Events", map[string][]string{"classes": {"Error"}})
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	parsed, err := ParseRequest(data)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if parsed.ID.String() != "Q9" || parsed.Method != "Events" || string(parsed.Params) != string(orig.Params) {
		t.Errorf("round trip mismatch: %+v", parsed)
	}
}
