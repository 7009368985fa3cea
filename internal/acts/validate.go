package acts

import (
	"math"

	"github.com/quartzlab/auditcore/internal/gauge"
	"github.com/quartzlab/auditcore/internal/knowledge"
	"github.com/quartzlab/auditcore/internal/state"
)

// ValidatedTransfer holds the resolved references for a transfer-shaped act.
// Sender and Recipient are copies out of the validated snapshot; Recipient
// is zero-valued when no recipient id was given.
type ValidatedTransfer struct {
	Sender    state.Account
	Recipient state.Account
	Amount    float64
}

// validateTransfer checks the preconditions for transfer-shaped acts
// (transfer, mint, exchange) against a state snapshot.
//
// Checks run in a fixed order and short-circuit on the first failure:
// halt switch, vibration gate, amount sanity, currency membership, sender
// existence (skipped for mint), recipient existence (when given), and
// sender balance coverage (skipped for mint).
//
// Pure: no state mutation, no side effects. Exchange reuses it with
// senderID == recipientID.
func validateTransfer(
	senderID, recipientID string,
	amount float64,
	currency state.Currency,
	snap state.SystemState,
	defs *knowledge.Definitions,
	isMint bool,
) (ValidatedTransfer, error) {
	if snap.IsHalted {
		return ValidatedTransfer{}, haltedError()
	}
	if snap.Vibration.Value >= gauge.Limit {
		return ValidatedTransfer{}, vibrationError(snap.Vibration.Value)
	}
	if amount <= 0 || math.IsNaN(amount) {
		return ValidatedTransfer{}, invalidAmountError(amount)
	}
	if !defs.HasCurrency(currency) {
		return ValidatedTransfer{}, unknownCurrencyError(string(currency))
	}

	var out ValidatedTransfer
	out.Amount = amount

	if !isMint {
		sender, ok := snap.FindAccount(senderID)
		if !ok {
			return ValidatedTransfer{}, accountNotFoundError(senderID)
		}
		out.Sender = sender.Clone()
	}

	if recipientID != "" {
		recipient, ok := snap.FindAccount(recipientID)
		if !ok {
			return ValidatedTransfer{}, accountNotFoundError(recipientID)
		}
		out.Recipient = recipient.Clone()
	}

	if !isMint {
		if have := out.Sender.Balances[currency]; have < amount {
			return ValidatedTransfer{}, insufficientBalanceError(senderID, string(currency), have, amount)
		}
	}

	return out, nil
}
