package paper

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil", nil, OutcomeOK},
		{"persistence", &domain.PersistenceError{Op: "append", Err: errors.New("eio")}, OutcomeFatal},
		{"wrapped persistence", fmt.Errorf("close: %w", &domain.PersistenceError{Op: "append"}), OutcomeFatal},
		{"transient", &domain.TransientDataError{Symbol: "X", Reason: "null"}, OutcomeRetry},
		{"exhausted", fmt.Errorf("pool: %w", domain.ErrExhausted), OutcomeRetry},
		{"canceled", context.Canceled, OutcomeRetry},
		{"deadline", fmt.Errorf("ltp: %w", context.DeadlineExceeded), OutcomeRetry},
		{"credential", &domain.CredentialError{Token: "t", Status: 401}, OutcomeCredential},
		{"unknown", errors.New("connection refused"), OutcomeCredential},
		{"tokened transient", withToken("t", &domain.TransientDataError{Reason: "x"}), OutcomeRetry},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "retry", OutcomeRetry.String())
	assert.Equal(t, "credential", OutcomeCredential.String())
	assert.Equal(t, "fatal", OutcomeFatal.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestTokenOf(t *testing.T) {
	assert.Equal(t, "abc", tokenOf(withToken("abc", errors.New("boom"))))
	assert.Equal(t, "xyz", tokenOf(&domain.CredentialError{Token: "xyz"}))
	assert.Equal(t, "", tokenOf(errors.New("boom")))
	assert.Nil(t, withToken("abc", nil))
}
