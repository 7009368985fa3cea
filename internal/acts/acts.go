package acts

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/quartzlab/auditcore/internal/gauge"
	"github.com/quartzlab/auditcore/internal/knowledge"
	"github.com/quartzlab/auditcore/internal/state"
)

// Vibration cost charged for each successful act.
// Validation failures never charge the gauge.
const (
	CostHalt          = 5.0
	CostRestart       = 5.0
	CostCreateAccount = 1.0
	CostTransfer      = 2.0
	CostMint          = 3.0
	CostExchange      = 1.0
	CostInfra         = 1.0
)

// Engine is the catalog of atomic ledger acts.
//
// Each act validates against the current snapshot, computes a full
// replacement for the fields it touches, commits through the store, and
// charges the vibration gauge. Acts are sequential: the design assumes a
// single logical writer, matching the store's contract.
type Engine struct {
	store *state.Store
	gauge *gauge.Gauge
	defs  *knowledge.Definitions
	now   gauge.TimeSource
}

// NewEngine creates an act engine over the given collaborators.
// A nil TimeSource defaults to the system clock.
func NewEngine(store *state.Store, g *gauge.Gauge, defs *knowledge.Definitions, now gauge.TimeSource) *Engine {
	if now == nil {
		now = gauge.SystemTime{}
	}
	return &Engine{store: store, gauge: g, defs: defs, now: now}
}

// Halt engages the global kill switch. Idempotent: halting an already
// halted system logs and returns without a state transition or charge.
// Halt is deliberately not gated on the vibration level.
func (e *Engine) Halt(ctx context.Context) error {
	snap := e.store.Current()
	if snap.IsHalted {
		slog.Info("halt ignored: system already halted")
		return nil
	}

	halted := true
	e.commit(ctx, state.Patch{IsHalted: &halted})
	e.charge(ctx, CostHalt)

	slog.Warn("system halted")
	return nil
}

// Restart releases the kill switch. Idempotent like Halt.
func (e *Engine) Restart(ctx context.Context) error {
	snap := e.store.Current()
	if !snap.IsHalted {
		slog.Info("restart ignored: system already operational")
		return nil
	}

	halted := false
	e.commit(ctx, state.Patch{IsHalted: &halted})
	e.charge(ctx, CostRestart)

	slog.Info("system restarted")
	return nil
}

// CreateAccount appends a new account with a zero balance in every
// configured currency. The id and name are NFC-normalized so duplicate
// checks and the persisted document are byte-stable across input methods.
func (e *Engine) CreateAccount(ctx context.Context, id, name string) error {
	id = norm.NFC.String(strings.TrimSpace(id))
	name = norm.NFC.String(strings.TrimSpace(name))

	snap := e.store.Current()
	if snap.IsHalted {
		return haltedError()
	}
	if id == "" {
		return &ActError{
			Code:    ErrCodeInvalidAccountID,
			Message: "account id must not be empty",
		}
	}
	if _, exists := snap.FindAccount(id); exists {
		return &ActError{
			Code:      ErrCodeDuplicateAccountID,
			Message:   "account id already exists",
			AccountID: id,
		}
	}

	balances := make(map[state.Currency]float64, len(e.defs.Currencies))
	for _, code := range e.defs.Codes() {
		balances[code] = 0
	}

	accounts := append(cloneAccounts(snap.Accounts), state.Account{
		ID:       id,
		Name:     name,
		Balances: balances,
	})

	e.commit(ctx, state.Patch{Accounts: accounts})
	e.charge(ctx, CostCreateAccount)

	slog.Info("account created", "account", id, "name", name)
	return nil
}

// Transfer moves amount of currency from sender to recipient. The debit
// and credit land in a single replacement of the accounts sequence, so
// per-currency supply is conserved.
func (e *Engine) Transfer(ctx context.Context, senderID, recipientID string, amount float64, currency state.Currency) error {
	snap := e.store.Current()

	v, err := validateTransfer(senderID, recipientID, amount, currency, snap, e.defs, false)
	if err != nil {
		return err
	}

	accounts := cloneAccounts(snap.Accounts)
	mustAccount(accounts, senderID).Balances[currency] -= v.Amount
	mustAccount(accounts, recipientID).Balances[currency] += v.Amount

	e.commit(ctx, state.Patch{Accounts: accounts})
	e.charge(ctx, CostTransfer)

	slog.Info("transfer applied",
		"sender", senderID,
		"recipient", recipientID,
		"amount", v.Amount,
		"currency", currency,
	)
	return nil
}

// Mint credits amount of currency to the recipient out of thin air.
// The sender-side checks are skipped; supply is not conserved. This is
// the protocol's deliberate inflation lever.
func (e *Engine) Mint(ctx context.Context, recipientID string, amount float64, currency state.Currency) error {
	snap := e.store.Current()

	v, err := validateTransfer("", recipientID, amount, currency, snap, e.defs, true)
	if err != nil {
		return err
	}

	accounts := cloneAccounts(snap.Accounts)
	mustAccount(accounts, recipientID).Balances[currency] += v.Amount

	e.commit(ctx, state.Patch{Accounts: accounts})
	e.charge(ctx, CostMint)

	slog.Info("mint applied",
		"recipient", recipientID,
		"amount", v.Amount,
		"currency", currency,
	)
	return nil
}

// Exchange converts amount of fromCurrency into toCurrency on a single
// account at rate = rates[to] / rates[from]. Returns the received amount.
func (e *Engine) Exchange(ctx context.Context, accountID string, amount float64, fromCurrency, toCurrency state.Currency) (float64, error) {
	if fromCurrency == toCurrency {
		return 0, &ActError{
			Code:     ErrCodeSameCurrency,
			Message:  "exchange requires two distinct currencies",
			Currency: string(fromCurrency),
		}
	}

	snap := e.store.Current()

	// Exchange is a self-transfer: the validator runs with the account as
	// both sender and recipient, checking balance in the source currency.
	v, err := validateTransfer(accountID, accountID, amount, fromCurrency, snap, e.defs, false)
	if err != nil {
		return 0, err
	}
	if !e.defs.HasCurrency(toCurrency) {
		return 0, unknownCurrencyError(string(toCurrency))
	}

	rate := snap.CurrencyRates[toCurrency] / snap.CurrencyRates[fromCurrency]
	received := v.Amount * rate

	accounts := cloneAccounts(snap.Accounts)
	acct := mustAccount(accounts, accountID)
	acct.Balances[fromCurrency] -= v.Amount
	acct.Balances[toCurrency] += received

	e.commit(ctx, state.Patch{Accounts: accounts})
	e.charge(ctx, CostExchange)

	slog.Info("exchange applied",
		"account", accountID,
		"amount", v.Amount,
		"from", fromCurrency,
		"to", toCurrency,
		"rate", rate,
		"received", received,
	)
	return received, nil
}

// AdjustInfrastructure replaces the named infrastructure channel's supply
// level. amount is a percentage and must be within [0,100].
func (e *Engine) AdjustInfrastructure(ctx context.Context, kind state.InfraKey, amount float64) error {
	snap := e.store.Current()
	if snap.IsHalted {
		return haltedError()
	}
	if !state.ValidInfraKeys[kind] {
		return &ActError{
			Code:    ErrCodeUnknownInfraKey,
			Message: "unknown infrastructure channel " + string(kind),
		}
	}
	if amount < 0 || amount > 100 || math.IsNaN(amount) {
		return invalidAmountError(amount)
	}

	entry := state.InfraEntry{
		Value:      amount,
		LastChange: e.now.Now().UnixMilli(),
	}
	e.commit(ctx, state.Patch{
		Infrastructure: map[state.InfraKey]state.InfraEntry{kind: entry},
	})
	e.charge(ctx, CostInfra)

	slog.Info("infrastructure adjusted", "kind", kind, "value", amount)
	return nil
}

// commit applies a patch through the store. A persist failure has already
// been logged by the store and the local state is authoritative, so it is
// not propagated as an act failure.
func (e *Engine) commit(ctx context.Context, p state.Patch) {
	if err := e.store.Apply(ctx, p); err != nil {
		var perr *state.PersistError
		if !errors.As(err, &perr) {
			slog.Error("unexpected commit error", "error", err)
		}
	}
}

// charge adds vibration for a successful act. Same persist policy as commit.
func (e *Engine) charge(ctx context.Context, cost float64) {
	if err := e.gauge.Add(ctx, cost); err != nil {
		var perr *state.PersistError
		if !errors.As(err, &perr) {
			slog.Error("unexpected gauge charge error", "error", err)
		}
	}
}

func cloneAccounts(src []state.Account) []state.Account {
	out := make([]state.Account, len(src))
	for i, a := range src {
		out[i] = a.Clone()
	}
	return out
}

// mustAccount resolves an account the validator has already confirmed.
// A miss here means validation and mutation diverged, which is a bug.
func mustAccount(accounts []state.Account, id string) *state.Account {
	for i := range accounts {
		if accounts[i].ID == id {
			return &accounts[i]
		}
	}
	panic("acts: validated account vanished: " + id)
}
