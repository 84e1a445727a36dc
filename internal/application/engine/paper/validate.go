package paper

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/papertrader/internal/application/engine"
	"github.com/alejandrodnm/papertrader/internal/domain"
)

// ValidateTokens probes every credential with one LTP call for the first
// underlying. Credentials rejected by the vendor are marked failed; ones
// already inactive are reported without a call.
func (e *Engine) ValidateTokens(ctx context.Context) []domain.TokenCheck {
	probe := e.cfg.Underlyings[0].Symbol
	statuses := e.tokens.Statuses()
	checks := make([]domain.TokenCheck, 0, len(statuses))

	for _, st := range statuses {
		check := domain.TokenCheck{Token: st.Masked()}
		if !st.Active {
			check.Message = "inactive: " + st.LastError
			checks = append(checks, check)
			continue
		}

		_, err := e.market.LTP(ctx, st.Token, domain.SegmentCash, []string{probe})
		switch {
		case err == nil:
			check.OK = true
			check.Message = "ok"
		case Classify(err) == OutcomeCredential:
			msg := engine.TruncateStr(err.Error(), maxErrorLen)
			e.tokens.MarkFailed(st.Token, msg)
			check.Message = msg
		default:
			check.Message = engine.TruncateStr(err.Error(), maxErrorLen)
		}

		slog.Info("engine: token validation", "token", check.Token, "ok", check.OK, "msg", check.Message)
		checks = append(checks, check)
	}
	return checks
}
