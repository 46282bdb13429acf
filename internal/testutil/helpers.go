package testutil

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
)

// DecodeJSONResponse decodes a recorded response body into out, failing
// the test on malformed JSON.
func DecodeJSONResponse(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("failed to decode response body %q: %v", body, err)
	}
}

// MustMarshal marshals v or fails the test.
func MustMarshal(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal %v: %v", v, err)
	}
	return data
}
