package dto

import "time"

type CreateDealRequest struct {
	BuyerID        string    `json:"buyer_id"`
	SellerID       string    `json:"seller_id"`
	BuyerAddress   string    `json:"buyer_address,omitempty"`
	SellerAddress  string    `json:"seller_address,omitempty"`
	Amount         string    `json:"amount"`          // decimal TON
	Commission     string    `json:"commission"`      // decimal TON
	CommissionType string    `json:"commission_type"` // buyer / seller / split
	Deadline       time.Time `json:"deadline"`
	Context        string    `json:"context,omitempty"` // deal subject
}

type SupplyAddressRequest struct {
	Address string `json:"address"`
}

type OpenDisputeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ResolveDisputeRequest struct {
	Winner string `json:"winner"` // buyer / seller
}

type SubmitSecretRequest struct {
	Secret string `json:"secret"`
}

type IssueTokenRequest struct {
	PartyID string `json:"party_id"`
	Role    string `json:"role,omitempty"`
	Key     string `json:"key"` // shared provisioning key
}
