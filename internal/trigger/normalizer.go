package trigger

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/quote-session/pkg/model"
)

// Normalize converts raw widget input into a canonical trade trigger.
//
// It returns (nil, nil) when the input is inert: both amounts empty or zero.
// Coins missing from the input fall back to the widget context. When both
// amounts are filled in, the from amount drives.
func Normalize(wc model.WidgetContext, in model.TriggerInput) (*model.TradeTrigger, error) {
	from := normalizeCoin(in.FromCoinID, wc.FromCoinID)
	to := normalizeCoin(in.ToCoinID, wc.ToCoinID)

	fromAmt, fromSet, err := parseAmount("fromAmount", in.FromAmount)
	if err != nil {
		return nil, err
	}
	toAmt, toSet, err := parseAmount("toAmount", in.ToAmount)
	if err != nil {
		return nil, err
	}

	if !fromSet && !toSet {
		return nil, nil
	}

	if from == "" || to == "" {
		return nil, model.Validationf("both coins are required")
	}
	if from == to {
		return nil, model.Validationf("cannot trade %s for itself", from)
	}

	t := &model.TradeTrigger{FromCoinID: from, ToCoinID: to}
	if fromSet {
		t.Side, t.Amount = model.DriveFrom, fromAmt
	} else {
		t.Side, t.Amount = model.DriveTo, toAmt
	}
	return t, nil
}

// Equal reports whether two triggers request the same quote.
func Equal(a, b *model.TradeTrigger) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.FromCoinID == b.FromCoinID &&
		a.ToCoinID == b.ToCoinID &&
		a.Side == b.Side &&
		a.Amount.Equal(b.Amount)
}

func normalizeCoin(id, fallback string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = strings.TrimSpace(fallback)
	}
	return strings.ToUpper(id)
}

// groupedAmount matches comma thousands grouping such as 1,250.50.
var groupedAmount = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d*)?$`)

// parseAmount returns the parsed amount and whether it counts as entered.
// Zero is treated like an empty field.
func parseAmount(field string, raw *string) (decimal.Decimal, bool, error) {
	if raw == nil {
		return decimal.Zero, false, nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return decimal.Zero, false, nil
	}
	num := s
	if strings.Contains(s, ",") {
		if !groupedAmount.MatchString(s) {
			return decimal.Zero, false, model.Validationf("%s %q has misplaced thousands separators", field, s)
		}
		num = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, false, model.Validationf("%s %q is not a number", field, s)
	}
	if d.IsNegative() {
		return decimal.Zero, false, model.Validationf("%s must not be negative", field)
	}
	if d.IsZero() {
		return decimal.Zero, false, nil
	}
	return d, true, nil
}
