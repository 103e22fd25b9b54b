package retry

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

type codedErr struct{ code int }

func (e codedErr) Error() string   { return "coded" }
func (e codedErr) StatusCode() int { return e.code }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, Other},
		{"api 429", genai.APIError{Code: 429}, QuotaExhausted},
		{"api pointer 429", &genai.APIError{Code: 429}, QuotaExhausted},
		{"resource exhausted status", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, QuotaExhausted},
		{"quota in message", genai.APIError{Code: 400, Message: "You exceeded your current Quota"}, QuotaExhausted},
		{"429 in plain message", errors.New("upstream said 429, slow down"), QuotaExhausted},
		{"quota lowercase plain", errors.New("daily quota reached"), QuotaExhausted},
		{"api 503", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, ServerBusy},
		{"status error 503", &StatusError{Code: 503}, ServerBusy},
		{"status coder 429", codedErr{code: 429}, QuotaExhausted},
		{"status coder 503", codedErr{code: 503}, ServerBusy},
		{"wrapped 503", fmt.Errorf("generating image: %w", genai.APIError{Code: 503}), ServerBusy},
		{"api 500", genai.APIError{Code: 500, Status: "INTERNAL"}, Other},
		{"api 400", genai.APIError{Code: 400, Message: "bad prompt"}, Other},
		{"plain", errors.New("connection reset"), Other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassRetryable(t *testing.T) {
	if Other.Retryable() {
		t.Error("Other should not be retryable")
	}
	if !QuotaExhausted.Retryable() || !ServerBusy.Retryable() {
		t.Error("quota and busy classes should be retryable")
	}
	if !IsTransient(&StatusError{Code: 503}) {
		t.Error("IsTransient(503) = false, want true")
	}
	if IsTransient(nil) {
		t.Error("IsTransient(nil) = true, want false")
	}
}
