package ledger

import (
	"fmt"
	"strings"
	"time"
)

// TxType classifies a normalized transaction.
type TxType string

const (
	// TypeTransfer is a value transfer between two parties.
	TypeTransfer TxType = "TRANSFER"
	// TypeInternal is a movement that does not change the account's
	// economic position (e.g. a book transfer between own accounts).
	TypeInternal TxType = "INTERNAL"
	// TypeFee is a processing fee attached to a primary transfer.
	// Fee values are always negative.
	TypeFee TxType = "FEE"
)

// Well-known provider names. Chain registrations use the chain name itself
// ("gnosis", "polygon", ...) as the provider tag, so this list is not closed.
const (
	ProviderStripe         = "stripe"
	ProviderOpenCollective = "opencollective"
	ProviderGoCardless     = "gocardless"
)

// Transaction is the normalized record every provider maps into.
// The pair (Provider, ProviderTxID) is the sole deduplication key.
type Transaction struct {
	// Timestamp is when the economic event occurred (source clock,
	// not ingestion clock), always UTC.
	Timestamp time.Time

	Provider        string
	ProviderAccount string
	ProviderTxID    string

	AccountAddress      string
	CounterpartyAddress string
	CounterpartyName    string
	// CounterpartyProfile is a JSON blob (name/url/image) populated only
	// when cross-provider correlation resolves an external identity.
	CounterpartyProfile string

	// Value is a signed amount in the token/currency's minor unit.
	// Negative values represent fees or outflows.
	Value         int64
	TokenSymbol   string
	TokenDecimals int

	Type        TxType
	Tags        string
	Description string

	// InvoiceUUID groups the records expanded from one upstream
	// transaction (a charge plus its fee records).
	InvoiceUUID string
	// Data is a JSON side channel for provider-specific detail
	// (line items, originating application, billing details).
	Data string
}

// Defaults carries caller-supplied values merged into every transaction a
// plugin produces. Plugin-produced fields take precedence on conflict.
type Defaults struct {
	Tags           string
	Description    string
	AccountAddress string
}

// ApplyDefaults fills empty fields of tx from d. Fields the plugin already
// set are left untouched.
func ApplyDefaults(tx *Transaction, d Defaults) {
	if tx.Tags == "" {
		tx.Tags = d.Tags
	}
	if tx.Description == "" {
		tx.Description = d.Description
	}
	if tx.AccountAddress == "" {
		tx.AccountAddress = d.AccountAddress
	}
}

// Validate checks the invariants every record must satisfy before it is
// handed to the store.
func (tx *Transaction) Validate() error {
	if tx.Provider == "" {
		return fmt.Errorf("transaction: missing provider")
	}
	if tx.ProviderTxID == "" {
		return fmt.Errorf("transaction: missing provider_tx_id")
	}
	if tx.Timestamp.IsZero() {
		return fmt.Errorf("transaction %s/%s: missing timestamp", tx.Provider, tx.ProviderTxID)
	}
	if tx.TokenDecimals < 0 {
		return fmt.Errorf("transaction %s/%s: negative token_decimals %d", tx.Provider, tx.ProviderTxID, tx.TokenDecimals)
	}
	switch tx.Type {
	case TypeTransfer, TypeInternal, TypeFee:
	default:
		return fmt.Errorf("transaction %s/%s: unknown type %q", tx.Provider, tx.ProviderTxID, tx.Type)
	}
	if tx.Type == TypeFee && tx.Value > 0 {
		return fmt.Errorf("transaction %s/%s: FEE value must not be positive", tx.Provider, tx.ProviderTxID)
	}
	return nil
}

// FeeTxID derives the synthetic provider_tx_id for a fee record expanded
// from a primary transaction.
func FeeTxID(primaryTxID, feeType string) string {
	return primaryTxID + "-" + strings.TrimSpace(feeType)
}
