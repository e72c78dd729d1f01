package obs

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                  "/",
		"/metrics":                          "/metrics",
		"/v1/grants/7":                      "/v1/grants/:id",
		"/v1/grants/7/claim":                "/v1/grants/:id/claim",
		"/v1/grants/7/extra/deep":           "/v1/grants/7/extra/deep",
		"/v1/beneficiaries/0xabc/grants":    "/v1/beneficiaries/:addr/grants",
		"/v1/balances/0xabc":                "/v1/balances/:addr",
		"/v1/sale/contributions/0xabc":      "/v1/sale/contributions/:addr",
		"/v1/sale/purchases":                "/v1/sale/purchases",
		"/v1/ledger/transactions?limit=10":  "/v1/ledger/transactions",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestLogEventReservedKeys(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogEvent("info", "grant_created", map[string]any{"grant_id": 3, "msg": "overridden"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["msg"] != "grant_created" || entry["level"] != "info" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["grant_id"] != float64(3) {
		t.Fatalf("field lost: %v", entry)
	}
}
