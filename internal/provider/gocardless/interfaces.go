package gocardless

import (
	"context"
	"time"
)

// Amount is a monetary value as the bank account data API reports it:
// a decimal string plus an ISO currency code.
type Amount struct {
	Value    string `json:"amount"`
	Currency string `json:"currency"`
}

// BankAccount identifies one side of a booked transaction.
type BankAccount struct {
	IBAN string `json:"iban"`
}

// BookedTransaction is one settled transaction on a bank account.
type BookedTransaction struct {
	TransactionID   string      `json:"transactionId"`
	BookingDate     string      `json:"bookingDate"`
	BookingDateTime string      `json:"bookingDateTime"`
	Amount          Amount      `json:"transactionAmount"`
	DebtorName      string      `json:"debtorName"`
	DebtorAccount   BankAccount `json:"debtorAccount"`
	CreditorName    string      `json:"creditorName"`
	CreditorAccount BankAccount `json:"creditorAccount"`
	Remittance      string      `json:"remittanceInformationUnstructured"`
	BankCode        string      `json:"proprietaryBankTransactionCode"`
}

// API is the bank account data surface the plugin consumes.
// This interface enables mocking and testing of REST operations.
type API interface {
	// Transactions lists booked transactions of an account. A zero
	// dateFrom leaves the date filter unset.
	Transactions(ctx context.Context, accountID string, dateFrom time.Time) ([]BookedTransaction, error)
}
