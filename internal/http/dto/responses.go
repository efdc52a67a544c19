package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type AuthResponse struct {
	Token string `json:"token"`
}

// GateSubmitResponse never reveals whether a session exists: rejected and
// absent sessions look the same to the caller except for the attempt count.
type GateSubmitResponse struct {
	OK          bool   `json:"ok"`
	Outcome     string `json:"outcome"`
	Attempts    int64  `json:"attempts,omitempty"`
	SupportHint string `json:"support_hint,omitempty"`
}

type PaymentInfoResponse struct {
	DealID          string `json:"deal_id"`
	DepositAddress  string `json:"deposit_address"`
	RequiredDeposit string `json:"required_deposit"` // decimal TON
	Status          string `json:"status"`
}
