package ledger

import (
	"fmt"

	"marketplace.mini/mkt/internal/types"
)

// collectFee pays the configured listing fee from escrow to the operator.
// Attached value above the fee stays with escrow.
func (l *Ledger) collectFee() error {
	if l.cfg.ListingFee == 0 {
		return nil
	}
	if err := l.payments.Transfer(l.cfg.Escrow, l.cfg.Operator, l.cfg.ListingFee); err != nil {
		return fmt.Errorf("%w: collect fee: %v", ErrInsufficientFee, err)
	}
	return nil
}

// refundFee reverses collectFee.
func (l *Ledger) refundFee() error {
	if l.cfg.ListingFee == 0 {
		return nil
	}
	return l.payments.Transfer(l.cfg.Operator, l.cfg.Escrow, l.cfg.ListingFee)
}

// paySeller forwards a buyer's attached value from escrow to the seller.
func (l *Ledger) paySeller(seller types.Address, amount uint64) error {
	if err := l.payments.Transfer(l.cfg.Escrow, seller, amount); err != nil {
		return fmt.Errorf("%w: pay seller: %v", ErrInsufficientPayment, err)
	}
	return nil
}

// refundSeller reverses paySeller.
func (l *Ledger) refundSeller(seller types.Address, amount uint64) error {
	return l.payments.Transfer(seller, l.cfg.Escrow, amount)
}
