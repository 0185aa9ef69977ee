package api

import "github.com/Checker-Finance/quote-session/pkg/model"

// OpenSessionRequest is the payload for opening a widget session.
type OpenSessionRequest struct {
	Mode       string `json:"mode"`
	FromCoinID string `json:"fromCoinId"`
	ToCoinID   string `json:"toCoinId"`
}

// TriggerRequest carries the widget's current input. Omitted or blank amounts are empty fields.
type TriggerRequest struct {
	FromCoinID string  `json:"fromCoinId"`
	ToCoinID   string  `json:"toCoinId"`
	FromAmount *string `json:"fromAmount"`
	ToAmount   *string `json:"toAmount"`
}

func (r *OpenSessionRequest) widgetContext(accountID string) model.WidgetContext {
	return model.WidgetContext{
		AccountID:  accountID,
		Mode:       model.TradeMode(r.Mode),
		FromCoinID: r.FromCoinID,
		ToCoinID:   r.ToCoinID,
	}
}

func (r *TriggerRequest) input() model.TriggerInput {
	return model.TriggerInput{
		FromCoinID: r.FromCoinID,
		ToCoinID:   r.ToCoinID,
		FromAmount: r.FromAmount,
		ToAmount:   r.ToAmount,
	}
}
