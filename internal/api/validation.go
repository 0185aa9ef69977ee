package api

import (
	"fmt"

	"github.com/Checker-Finance/quote-session/pkg/model"
)

// Validate checks that OpenSessionRequest names a known trade mode.
func (r *OpenSessionRequest) Validate() error {
	switch model.TradeMode(r.Mode) {
	case model.ModeBuy, model.ModeSell, model.ModeConvert:
	case "":
		return fmt.Errorf("mode is required")
	default:
		return fmt.Errorf("unsupported mode %q", r.Mode)
	}
	if r.FromCoinID != "" && r.FromCoinID == r.ToCoinID {
		return fmt.Errorf("fromCoinId and toCoinId must differ")
	}
	return nil
}
