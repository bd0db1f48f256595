package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// TransactionType names the state transition a transaction requests.
type TransactionType string

const (
	TxMint     TransactionType = "mint"
	TxApprove  TransactionType = "approve"
	TxList     TransactionType = "list"
	TxBuy      TransactionType = "buy"
	TxResell   TransactionType = "resell"
	TxTransfer TransactionType = "transfer"
)

// Transaction is the unsigned body of a marketplace transaction. Nonce must
// be at least the signer's next nonce; once delivered, nothing with the same
// or a lower nonce from that signer is accepted again.
type Transaction struct {
	Type      TransactionType `json:"type"`
	Nonce     uint64          `json:"nonce"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SignedTransaction wraps the serialized Transaction with the signer's key.
// The signer is the caller of the requested operation.
type SignedTransaction struct {
	PublicKey ed25519.PublicKey `json:"public_key"`
	Tx        []byte            `json:"tx"`
	Signature []byte            `json:"signature"`
}

// Signer is satisfied by identity.Identity.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() ed25519.PublicKey
}

// NewTransaction builds a Transaction with the payload marshalled to JSON.
func NewTransaction(txType TransactionType, payload interface{}) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Transaction{Type: txType, Timestamp: time.Now().UTC(), Payload: raw}, nil
}

// Sign serializes the transaction and signs it with s.
func (t *Transaction) Sign(s Signer) (*SignedTransaction, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		PublicKey: s.PublicKey(),
		Tx:        body,
		Signature: s.Sign(body),
	}, nil
}

// Verify reports whether the signature matches the embedded public key.
func (st *SignedTransaction) Verify() bool {
	if len(st.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(st.PublicKey, st.Tx, st.Signature)
}

// Signer returns the caller address of the transaction.
func (st *SignedTransaction) Signer() Address {
	return Address(hex.EncodeToString(st.PublicKey))
}

// GetTransaction decodes the inner transaction.
func (st *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(st.Tx, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Encode returns the wire form submitted to the settlement layer.
func (st *SignedTransaction) Encode() ([]byte, error) {
	return json.Marshal(st)
}

// DecodeSignedTransaction parses the wire form.
func DecodeSignedTransaction(b []byte) (*SignedTransaction, error) {
	var st SignedTransaction
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	if len(st.Tx) == 0 {
		return nil, errors.New("empty transaction body")
	}
	return &st, nil
}

// MintPayload asks the registry for a new asset owned by the caller.
type MintPayload struct {
	ContractRef string `json:"contract"`
	MetadataRef string `json:"metadata_ref"`
}

// ApprovePayload grants Operator the right to move a single asset.
type ApprovePayload struct {
	ContractRef string  `json:"contract"`
	AssetID     uint64  `json:"asset_id"`
	Operator    Address `json:"operator"`
}

// ListPayload is shared by list and resell. Value is the amount attached to
// the call and must cover the listing fee.
type ListPayload struct {
	ContractRef string `json:"contract"`
	AssetID     uint64 `json:"asset_id"`
	Price       uint64 `json:"price"`
	Value       uint64 `json:"value"`
}

// BuyPayload purchases the active listing of an asset. Value must cover the
// listing price.
type BuyPayload struct {
	ContractRef string `json:"contract"`
	AssetID     uint64 `json:"asset_id"`
	Value       uint64 `json:"value"`
}

// TransferPayload moves value between accounts.
type TransferPayload struct {
	To     Address `json:"to"`
	Amount uint64  `json:"amount"`
}

// TxResult is the Data returned by DeliverTx.
type TxResult struct {
	ListingID string `json:"listing_id,omitempty"`
	AssetID   uint64 `json:"asset_id,omitempty"`
}

// TxResponse is the settled outcome of a submitted transaction.
type TxResponse struct {
	Code   uint32   `json:"code"`
	Log    string   `json:"log,omitempty"`
	Hash   string   `json:"hash,omitempty"`
	Height int64    `json:"height,omitempty"`
	Result TxResult `json:"result"`
	Events []Event  `json:"events,omitempty"`
}

// OK reports whether the transaction was applied.
func (r *TxResponse) OK() bool { return r.Code == 0 }
