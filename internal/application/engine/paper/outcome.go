package paper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alejandrodnm/papertrader/internal/application/engine"
	"github.com/alejandrodnm/papertrader/internal/domain"
)

// Outcome is what the loop does with an error raised inside a cycle.
type Outcome int

const (
	// OutcomeOK means no error.
	OutcomeOK Outcome = iota
	// OutcomeRetry abandons the current action; the next cycle tries again.
	OutcomeRetry
	// OutcomeCredential marks the credential used for the call as failed,
	// then behaves like OutcomeRetry.
	OutcomeCredential
	// OutcomeFatal stops the loop.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeCredential:
		return "credential"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Classify maps an error to its outcome. Persistence failures are fatal.
// Malformed data, an exhausted pool and cancellation are retried. Anything
// else coming back from a vendor call is pinned on the credential.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return OutcomeFatal
	}
	var tde *domain.TransientDataError
	switch {
	case errors.As(err, &tde),
		errors.Is(err, domain.ErrExhausted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return OutcomeRetry
	}
	return OutcomeCredential
}

// callError ties a vendor error to the token the call was made with.
type callError struct {
	token string
	err   error
}

func (e *callError) Error() string { return e.err.Error() }
func (e *callError) Unwrap() error { return e.err }

func withToken(token string, err error) error {
	if err == nil {
		return nil
	}
	return &callError{token: token, err: err}
}

// handle applies the outcome of err raised while doing action. It returns
// err only when the loop must stop.
func (e *Engine) handle(err error, action string) error {
	outcome := Classify(err)
	if outcome == OutcomeOK {
		return nil
	}

	e.mu.Lock()
	e.lastErr = engine.TruncateStr(action+": "+err.Error(), maxErrorLen)
	e.mu.Unlock()

	switch outcome {
	case OutcomeFatal:
		return err
	case OutcomeCredential:
		if token := tokenOf(err); token != "" {
			e.tokens.MarkFailed(token, engine.TruncateStr(err.Error(), maxErrorLen))
			slog.Warn("engine: "+action+" failed, credential marked failed",
				"token", domain.MaskToken(token), "err", err)
			return nil
		}
		slog.Warn("engine: "+action+" failed", "err", err)
	default:
		slog.Info("engine: "+action+" skipped", "reason", err)
	}
	return nil
}

// tokenOf returns the token err is attributed to, or "".
func tokenOf(err error) string {
	var call *callError
	if errors.As(err, &call) {
		return call.token
	}
	var ce *domain.CredentialError
	if errors.As(err, &ce) {
		return ce.Token
	}
	return ""
}
