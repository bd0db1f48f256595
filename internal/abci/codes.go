package abci

import (
	"encoding/json"
	"errors"
	"fmt"

	abci "github.com/tendermint/tendermint/abci/types"

	"marketplace.mini/mkt/internal/bank"
	"marketplace.mini/mkt/internal/ledger"
	"marketplace.mini/mkt/internal/registry"
	"marketplace.mini/mkt/internal/types"
)

const (
	CodeTypeOK                  uint32 = 0
	CodeTypeEncodingError       uint32 = 1
	CodeTypeAuthError           uint32 = 2
	CodeTypeInvalidTx           uint32 = 3
	CodeTypeInsufficientFee     uint32 = 4
	CodeTypeInvalidPrice        uint32 = 5
	CodeTypeInsufficientPayment uint32 = 6
	CodeTypeNoActiveListing     uint32 = 7
	CodeTypeTransferRejected    uint32 = 8
	CodeTypeInsufficientFunds   uint32 = 9
	CodeTypeUnknownContract     uint32 = 10
	CodeTypeNotFound            uint32 = 11
)

var (
	errEncoding  = errors.New("encoding error")
	errAuth      = errors.New("invalid signature")
	errInvalidTx = errors.New("invalid transaction")
	errNotFound  = errors.New("not found")
	errNonce     = errors.New("nonce already used")
)

// errorCodes is checked in order; more specific errors come first.
var errorCodes = []struct {
	err  error
	code uint32
}{
	{errEncoding, CodeTypeEncodingError},
	{errAuth, CodeTypeAuthError},
	{errNonce, CodeTypeAuthError},
	{errInvalidTx, CodeTypeInvalidTx},
	{errNotFound, CodeTypeNotFound},
	{ledger.ErrUnknownContract, CodeTypeUnknownContract},
	{ledger.ErrInsufficientFee, CodeTypeInsufficientFee},
	{ledger.ErrInvalidPrice, CodeTypeInvalidPrice},
	{ledger.ErrInsufficientPayment, CodeTypeInsufficientPayment},
	{ledger.ErrNoActiveListing, CodeTypeNoActiveListing},
	{ledger.ErrTransferRejected, CodeTypeTransferRejected},
	{registry.ErrNoSuchAsset, CodeTypeTransferRejected},
	{registry.ErrNotOwner, CodeTypeTransferRejected},
	{registry.ErrNotAuthorized, CodeTypeTransferRejected},
	{registry.ErrEmptyRecipient, CodeTypeInvalidTx},
	{bank.ErrInsufficientFunds, CodeTypeInsufficientFunds},
	{bank.ErrOverflow, CodeTypeInvalidTx},
}

func codeFor(err error) uint32 {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeTypeInvalidTx
}

// CodeName returns a short name for a result code, used in API responses
// and CLI output.
func CodeName(code uint32) string {
	switch code {
	case CodeTypeOK:
		return "ok"
	case CodeTypeEncodingError:
		return "encoding_error"
	case CodeTypeAuthError:
		return "auth_error"
	case CodeTypeInvalidTx:
		return "invalid_tx"
	case CodeTypeInsufficientFee:
		return "insufficient_fee"
	case CodeTypeInvalidPrice:
		return "invalid_price"
	case CodeTypeInsufficientPayment:
		return "insufficient_payment"
	case CodeTypeNoActiveListing:
		return "no_active_listing"
	case CodeTypeTransferRejected:
		return "transfer_rejected"
	case CodeTypeInsufficientFunds:
		return "insufficient_funds"
	case CodeTypeUnknownContract:
		return "unknown_contract"
	case CodeTypeNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("code_%d", code)
	}
}

func decodeTx(raw []byte) (*types.SignedTransaction, *types.Transaction, error) {
	stx, err := types.DecodeSignedTransaction(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode signed tx: %v", errEncoding, err)
	}
	if !stx.Verify() {
		return nil, nil, errAuth
	}
	tx, err := stx.GetTransaction()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: decode inner tx: %v", errEncoding, err)
	}
	return stx, tx, nil
}

// validate performs the checks that need no state. Price rules are left to
// the ledger so the fee is always checked first.
func validate(tx *types.Transaction) error {
	if tx.Nonce >= types.MaxAmount {
		return fmt.Errorf("%w: nonce %d out of range", errInvalidTx, tx.Nonce)
	}
	switch tx.Type {
	case types.TxMint:
		var p types.MintPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: mint payload: %v", errEncoding, err)
		}
		if _, err := registry.ParseMetadataRef(p.MetadataRef); err != nil {
			return fmt.Errorf("%w: %v", errInvalidTx, err)
		}
	case types.TxApprove:
		var p types.ApprovePayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: approve payload: %v", errEncoding, err)
		}
		if p.Operator == "" {
			return fmt.Errorf("%w: approve requires an operator", errInvalidTx)
		}
	case types.TxList, types.TxResell:
		var p types.ListPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: %s payload: %v", errEncoding, tx.Type, err)
		}
		if err := inRange("value", p.Value); err != nil {
			return err
		}
	case types.TxBuy:
		var p types.BuyPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: buy payload: %v", errEncoding, err)
		}
		if err := inRange("value", p.Value); err != nil {
			return err
		}
	case types.TxTransfer:
		var p types.TransferPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return fmt.Errorf("%w: transfer payload: %v", errEncoding, err)
		}
		if p.To == "" || p.Amount == 0 {
			return fmt.Errorf("%w: transfer requires a recipient and a positive amount", errInvalidTx)
		}
		if err := inRange("amount", p.Amount); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown transaction type %q", errInvalidTx, tx.Type)
	}
	return nil
}

func inRange(field string, v uint64) error {
	if v > types.MaxAmount {
		return fmt.Errorf("%w: %s %d exceeds %d", errInvalidTx, field, v, types.MaxAmount)
	}
	return nil
}

func toABCIEvents(events []types.Event) []abci.Event {
	out := make([]abci.Event, 0, len(events))
	for _, ev := range events {
		attrs := ev.Attributes()
		ae := abci.Event{Type: ev.Kind.EventType(), Attributes: make([]abci.EventAttribute, 0, len(attrs))}
		for _, kv := range attrs {
			ae.Attributes = append(ae.Attributes, abci.EventAttribute{
				Key:   []byte(kv[0]),
				Value: []byte(kv[1]),
				Index: true,
			})
		}
		out = append(out, ae)
	}
	return out
}

// FromABCIEvents converts delivered ABCI events back into marketplace
// events, skipping types it does not know.
func FromABCIEvents(events []abci.Event) []types.Event {
	var out []types.Event
	for _, ae := range events {
		kind, ok := types.KindForEventType(ae.Type)
		if !ok {
			continue
		}
		attrs := make(map[string]string, len(ae.Attributes))
		for _, a := range ae.Attributes {
			attrs[string(a.Key)] = string(a.Value)
		}
		out = append(out, types.EventFromAttributes(kind, attrs))
	}
	return out
}
