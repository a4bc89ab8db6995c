// Package x402 defines the wire types of the x402 v2 payment protocol:
// payment requirements, the signed authorization a buyer produces, the
// payload carried in the Payment-Signature header, and the settlement
// receipt returned after a successful on-chain transfer.
package x402

// Version is the x402 protocol version this gateway implements.
const Version = 2

// SchemeExact is the only payment scheme this gateway supports: an exact
// amount, paid once, via a signed EIP-3009 authorization.
const SchemeExact = "exact"

// SettlementMode discriminates between paying the treasury directly and
// paying through an escrow adapter contract.
type SettlementMode string

const (
	ModeTransfer SettlementMode = "transfer"
	ModeEscrow   SettlementMode = "escrow"
)

// RequirementsExtra carries the EIP-712 domain metadata and, for escrow
// mode, the order identifier the adapter contract expects.
type RequirementsExtra struct {
	SettlementMode      SettlementMode `json:"settlementMode,omitempty"`
	AssetTransferMethod string         `json:"assetTransferMethod,omitempty"`
	Name                string         `json:"name"`
	Version             string         `json:"version"`
	OrderID             string         `json:"orderId,omitempty"`
	Description         string         `json:"description,omitempty"`
}

// Requirements describes what must be paid and to whom. The zero value is
// not a valid offer; cmd/gate builds the one it advertises in
// buildRequirements.
type Requirements struct {
	Scheme  string            `json:"scheme"`
	Network string            `json:"network"`
	Asset   string            `json:"asset"`
	PayTo   string             `json:"payTo"`
	Amount  string            `json:"amount"`
	Extra   RequirementsExtra `json:"extra"`
}

// Authorization is the EIP-3009 TransferWithAuthorization message a buyer
// signs off-chain. All integer fields are decimal strings, per spec.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the inner payment payload: the signature plus the authorization
// it covers.
type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the full structure transmitted base64-JSON in the
// Payment-Signature request header.
type PaymentPayload struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     string  `json:"network"`
	Payload     Payload `json:"payload"`
}

// SettlementResult is the receipt the gate assembles from the facilitator's
// settle response and sends in the Payment-Response header.
type SettlementResult struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	X402Version int    `json:"x402Version"`
}

// VerifyResponse is the body of /verify and /verify-transfer.
type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// AssetDescriptor is a server-configured, boot-time-immutable description
// of one supported ERC-20/EIP-3009 asset.
type AssetDescriptor struct {
	Address        string `json:"address"`
	Symbol         string `json:"symbol"`
	Decimals       int    `json:"decimals"`
	DomainName     string `json:"domainName"`
	DomainVersion  string `json:"domainVersion"`
	EIP3009        bool   `json:"eip3009"`
}
