// Package buyer is the minimal reference client-side signer of spec.md
// §4.5: GET a protected URL, and if refused with 402, sign an EIP-3009
// authorization against the first acceptable offer and retry. It is used
// by the facilitator's demo-ai helper and by cmd/x402-cli for manual
// end-to-end smoke testing.
package buyer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/conflux-arena/x402-gateway/eip712"
	"github.com/conflux-arena/x402-gateway/x402"
)

// fallbackDomain is used when an offer's extra.name/extra.version is blank.
// Real integrations should prefer an explicit asset table (see the Open
// Question resolution in SPEC_FULL.md §9); the buyer is untrusted and only
// needs a reasonable default to build a signable digest.
var fallbackDomain = struct{ Name, Version string }{Name: "USDT0", Version: "1"}

// Client signs and retries x402-gated requests with one EVM private key.
type Client struct {
	httpClient *http.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// New builds a Client from a hex-encoded private key.
func New(privateKeyHex string) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid buyer private key: %w", err)
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the buyer's address.
func (c *Client) Address() common.Address { return c.address }

// Pay performs the full spec.md §4.5 flow against url: GET, and on 402,
// sign an authorization against the first acceptable offer and retry. If
// the initial GET does not return 402, the response is returned as-is with
// a nil SettlementResult.
func (c *Client) Pay(ctx context.Context, url, network string) (*http.Response, *x402.SettlementResult, error) {
	resp, err := c.get(ctx, url, "")
	if err != nil {
		return nil, nil, fmt.Errorf("initial GET: %w", err)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil, nil
	}

	encoded := resp.Header.Get("Payment-Required")
	resp.Body.Close()
	if encoded == "" {
		return nil, nil, fmt.Errorf("402 response missing Payment-Required header")
	}
	offers, err := x402.DecodeRequirements(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding Payment-Required: %w", err)
	}

	offer, ok := pickOffer(offers, network)
	if !ok {
		return nil, nil, fmt.Errorf("no acceptable payment offer for network %q", network)
	}

	payload, err := c.sign(offer)
	if err != nil {
		return nil, nil, fmt.Errorf("signing authorization: %w", err)
	}
	encodedPayload, err := x402.EncodePayload(*payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding payment payload: %w", err)
	}

	resp2, err := c.get(ctx, url, encodedPayload)
	if err != nil {
		return nil, nil, fmt.Errorf("retry GET: %w", err)
	}

	var result *x402.SettlementResult
	if enc := resp2.Header.Get("Payment-Response"); enc != "" {
		result, err = x402.DecodeResult(enc)
		if err != nil {
			return resp2, nil, fmt.Errorf("decoding Payment-Response: %w", err)
		}
	}
	return resp2, result, nil
}

// pickOffer chooses the first entry whose scheme is "exact", whose network
// matches, and whose settlement mode is transfer or eip3009-escrow
// (spec.md §4.5).
func pickOffer(offers []x402.Requirements, network string) (x402.Requirements, bool) {
	for _, o := range offers {
		if o.Scheme != x402.SchemeExact {
			continue
		}
		if network != "" && o.Network != network {
			continue
		}
		if o.Extra.SettlementMode == x402.ModeTransfer || o.Extra.AssetTransferMethod == "eip3009" {
			return o, true
		}
	}
	return x402.Requirements{}, false
}

func (c *Client) get(ctx context.Context, url, paymentHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if paymentHeader != "" {
		req.Header.Set("Payment-Signature", paymentHeader)
	}
	return c.httpClient.Do(req)
}

// sign builds and signs the EIP-3009 authorization for offer: validAfter=0,
// validBefore=now+3600, a fresh 32-byte nonce.
func (c *Client) sign(offer x402.Requirements) (*x402.PaymentPayload, error) {
	name := offer.Extra.Name
	version := offer.Extra.Version
	if name == "" {
		name = fallbackDomain.Name
	}
	if version == "" {
		version = fallbackDomain.Version
	}

	chainID, err := x402.ChainIDFromNetwork(offer.Network)
	if err != nil {
		return nil, err
	}

	amount, ok := new(big.Int).SetString(offer.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid offer amount: %q", offer.Amount)
	}

	var nonceBytes [32]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	now := time.Now().Unix()
	validAfter := big.NewInt(0)
	validBefore := big.NewInt(now + 3600)

	typedAuth := eip712.Authorization{
		From:        c.address,
		To:          common.HexToAddress(offer.PayTo),
		Value:       amount,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonceBytes,
	}
	domain := eip712.Domain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(offer.Asset),
	}
	digest := eip712.Digest(domain, typedAuth)
	sig, err := crypto.Sign(digest.Bytes(), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing digest: %w", err)
	}
	// Wallets conventionally publish recovery id as 27/28, not 0/1.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return &x402.PaymentPayload{
		X402Version: x402.Version,
		Scheme:      x402.SchemeExact,
		Network:     offer.Network,
		Payload: x402.Payload{
			Signature: "0x" + hex.EncodeToString(sig),
			Authorization: x402.Authorization{
				From:        c.address.Hex(),
				To:          offer.PayTo,
				Value:       typedAuth.Value.String(),
				ValidAfter:  strconv.FormatInt(validAfter.Int64(), 10),
				ValidBefore: strconv.FormatInt(validBefore.Int64(), 10),
				Nonce:       "0x" + hex.EncodeToString(nonceBytes[:]),
			},
		},
	}, nil
}

// DrainAndClose discards and closes resp.Body, the usual courtesy before
// reusing an *http.Client's underlying transport connection.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
