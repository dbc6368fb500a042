package domain

// OpenAccountRequest is the DTO for opening a ledger account.
type OpenAccountRequest struct {
	BankCode       string `json:"bank_code" validate:"required,max=16"`
	AccountNumber  string `json:"account_number" validate:"required,number,min=6,max=20"`
	Name           string `json:"name" validate:"max=120"`
	InitialDeposit string `json:"initial_deposit" validate:"omitempty,numeric"`
}

// AmountRequest is the DTO for deposits, withdrawals and transfers. Amounts
// are decimal strings such as "150.00".
type AmountRequest struct {
	Amount      string `json:"amount" validate:"required,numeric"`
	Description string `json:"description" validate:"max=255"`
}

type ReverseTransactionRequest struct {
	Description string `json:"description" validate:"max=255"`
}

// CreateRecurringTransferRequest is the DTO for creating a standing order.
type CreateRecurringTransferRequest struct {
	SourceAccountID      string `json:"source_account_id" validate:"required,uuid"`
	DestinationAccountID string `json:"destination_account_id" validate:"required,uuid,nefield=SourceAccountID"`
	Amount               string `json:"amount" validate:"required,numeric"`
	Description          string `json:"description" validate:"max=255"`
	Frequency            string `json:"frequency" validate:"required,oneof=DAILY WEEKLY MONTHLY"`
	DayOfWeek            *int   `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	DayOfMonth           *int   `json:"day_of_month" validate:"omitempty,min=1,max=31"`
	StartDate            string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate              string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateRecurringTransferRequest is a partial update; omitted fields are unchanged.
type UpdateRecurringTransferRequest struct {
	Amount       *string `json:"amount" validate:"omitempty,numeric"`
	Description  *string `json:"description" validate:"omitempty,max=255"`
	EndDate      *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	ClearEndDate bool    `json:"clear_end_date"`
}

type CreateProductMaturityRequest struct {
	ProductAccountID string `json:"product_account_id" validate:"required,uuid"`
	PayoutAccountID  string `json:"payout_account_id" validate:"required,uuid,nefield=ProductAccountID"`
	MaturityDate     string `json:"maturity_date" validate:"required,datetime=2006-01-02"`
}

type TriggerTickRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}
