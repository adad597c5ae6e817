package handler

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/ratelimit"
	"github.com/helioscrm/helios/internal/service"
)

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=25&bad=abc", nil)

	if got := queryInt(r, "limit", 10); got != 25 {
		t.Errorf("limit: %d", got)
	}
	if got := queryInt(r, "missing", 10); got != 10 {
		t.Errorf("missing: %d", got)
	}
	if got := queryInt(r, "bad", 10); got != 10 {
		t.Errorf("bad: %d", got)
	}
}

func TestClampInt(t *testing.T) {
	cases := []struct{ val, min, max, want int }{
		{5, 1, 10, 5},
		{0, 1, 10, 1},
		{99, 1, 10, 10},
	}
	for _, tc := range cases {
		if got := clampInt(tc.val, tc.min, tc.max); got != tc.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tc.val, tc.min, tc.max, got, tc.want)
		}
	}
}

func TestWriteServiceError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, &service.AuthError{Kind: service.KindRateLimited, Window: ratelimit.WindowDay})

	if rec.Code != 429 {
		t.Fatalf("status: %d", rec.Code)
	}
	var body model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Kind != string(service.KindRateLimited) || body.Error.Code != 429 {
		t.Errorf("body: %+v", body.Error)
	}
}

func TestWriteServiceErrorHidesUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeServiceError(rec, json.Unmarshal([]byte("{"), &struct{}{}))

	if rec.Code != 500 {
		t.Fatalf("status: %d", rec.Code)
	}
	var body model.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Message != "Internal error" {
		t.Errorf("leaked message: %q", body.Error.Message)
	}
}
