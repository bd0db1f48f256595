package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"marketplace.mini/mkt/internal/types"
)

// SaveState writes a committed state snapshot in one transaction. Listing
// records are upserted by id, so rows are only ever added or marked sold;
// registries, assets, operators, balances and nonces are replaced wholesale.
func (s *Store) SaveState(state types.AppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errors.New("store is closed")
	}
	if s.pendingImport {
		log.Warnf("not saving height %d: an imported snapshot is waiting for a restart", state.Height)
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := saveLocked(tx, state); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}

	log.Debugf("saved state at height %d: %d listings, %d assets", state.Height, len(state.Listings), len(state.Assets))
	s.notify(state.Height)
	return nil
}

func saveLocked(tx *sql.Tx, state types.AppState) error {
	listingStmt, err := tx.Prepare(`INSERT INTO listings (
		id, seq, contract_ref, asset_id, seller, holder, price, listed,
		previous_id, created_height, sold_height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			holder = excluded.holder,
			listed = excluded.listed,
			sold_height = excluded.sold_height`)
	if err != nil {
		return fmt.Errorf("prepare listing insert: %w", err)
	}
	defer listingStmt.Close()

	// Records arrive in sequence order, so a sold record is updated before
	// its successor is inserted and the one-active index never trips.
	for _, l := range state.Listings {
		seq, err := toInt64(l.Seq)
		if err != nil {
			return err
		}
		assetID, err := toInt64(l.AssetID)
		if err != nil {
			return err
		}
		price, err := toInt64(l.Price)
		if err != nil {
			return err
		}
		if _, err := listingStmt.Exec(l.ID, seq, l.ContractRef, assetID, string(l.Seller), string(l.Holder),
			price, l.Listed, l.PreviousID, l.CreatedHeight, l.SoldHeight); err != nil {
			return fmt.Errorf("upsert listing %s: %w", l.ID, err)
		}
	}

	for _, table := range []string{"registries", "assets", "operators", "balances", "nonces"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, rs := range state.Registries {
		next, err := toInt64(rs.NextID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO registries (contract_ref, next_id) VALUES (?, ?)`, rs.ContractRef, next); err != nil {
			return fmt.Errorf("insert registry %s: %w", rs.ContractRef, err)
		}
	}

	assetStmt, err := tx.Prepare(`INSERT INTO assets (contract_ref, asset_id, owner, metadata_ref, approved)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare asset insert: %w", err)
	}
	defer assetStmt.Close()

	for _, a := range state.Assets {
		id, err := toInt64(a.ID)
		if err != nil {
			return err
		}
		if _, err := assetStmt.Exec(a.ContractRef, id, string(a.Owner), a.MetadataRef, string(a.Approved)); err != nil {
			return fmt.Errorf("insert asset %s/%d: %w", a.ContractRef, a.ID, err)
		}
	}

	for _, op := range state.Operators {
		if _, err := tx.Exec(`INSERT INTO operators (contract_ref, owner, operator) VALUES (?, ?, ?)`,
			op.ContractRef, string(op.Owner), string(op.Operator)); err != nil {
			return fmt.Errorf("insert operator approval: %w", err)
		}
	}

	for _, addr := range sortedAddresses(state.Balances) {
		amount, err := toInt64(state.Balances[addr])
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO balances (address, amount) VALUES (?, ?)`, string(addr), amount); err != nil {
			return fmt.Errorf("insert balance %s: %w", addr, err)
		}
	}

	for _, addr := range sortedAddresses(state.Nonces) {
		next, err := toInt64(state.Nonces[addr])
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO nonces (address, next) VALUES (?, ?)`, string(addr), next); err != nil {
			return fmt.Errorf("insert nonce %s: %w", addr, err)
		}
	}

	meta := map[string]string{
		"height":      strconv.FormatInt(state.Height, 10),
		"app_hash":    encodeHash(state.AppHash),
		"listing_fee": strconv.FormatUint(state.ListingFee, 10),
		"operator":    string(state.Operator),
		"escrow":      string(state.Escrow),
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	return nil
}

// LoadState reads the last saved snapshot. The boolean is false when nothing
// has been saved yet.
func (s *Store) LoadState() (types.AppState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return types.AppState{}, false, errors.New("store is closed")
	}

	meta, err := s.loadMetaLocked()
	if err != nil {
		return types.AppState{}, false, err
	}
	if _, ok := meta["height"]; !ok {
		return types.AppState{}, false, nil
	}

	state := types.AppState{
		Height:     parseInt(meta["height"]),
		AppHash:    decodeHash(meta["app_hash"]),
		ListingFee: parseUint(meta["listing_fee"]),
		Operator:   types.Address(meta["operator"]),
		Escrow:     types.Address(meta["escrow"]),
		Registries: []types.RegistryState{},
		Listings:   []types.Listing{},
		Assets:     []types.Asset{},
		Operators:  []types.OperatorApproval{},
		Balances:   map[types.Address]uint64{},
		Nonces:     map[types.Address]uint64{},
	}

	if state.Registries, err = s.loadRegistriesLocked(); err != nil {
		return types.AppState{}, false, err
	}
	if state.Listings, err = s.loadListingsLocked(); err != nil {
		return types.AppState{}, false, err
	}
	if state.Assets, err = s.loadAssetsLocked(); err != nil {
		return types.AppState{}, false, err
	}
	if state.Operators, err = s.loadOperatorsLocked(); err != nil {
		return types.AppState{}, false, err
	}
	if state.Balances, err = s.loadBalancesLocked(); err != nil {
		return types.AppState{}, false, err
	}
	if state.Nonces, err = s.loadNoncesLocked(); err != nil {
		return types.AppState{}, false, err
	}
	return state, true, nil
}

func (s *Store) loadMetaLocked() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (s *Store) loadRegistriesLocked() ([]types.RegistryState, error) {
	rows, err := s.db.Query(`SELECT contract_ref, next_id FROM registries ORDER BY contract_ref`)
	if err != nil {
		return nil, fmt.Errorf("query registries: %w", err)
	}
	defer rows.Close()

	out := []types.RegistryState{}
	for rows.Next() {
		var rs types.RegistryState
		var next int64
		if err := rows.Scan(&rs.ContractRef, &next); err != nil {
			return nil, fmt.Errorf("scan registry: %w", err)
		}
		rs.NextID = uint64(next)
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (s *Store) loadListingsLocked() ([]types.Listing, error) {
	rows, err := s.db.Query(`SELECT id, seq, contract_ref, asset_id, seller, holder, price, listed,
		previous_id, created_height, sold_height FROM listings ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	out := []types.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanListing(scanner interface{ Scan(dest ...any) error }) (types.Listing, error) {
	var (
		l                   types.Listing
		seq, assetID, price int64
		seller, holder      string
	)
	if err := scanner.Scan(&l.ID, &seq, &l.ContractRef, &assetID, &seller, &holder, &price, &l.Listed,
		&l.PreviousID, &l.CreatedHeight, &l.SoldHeight); err != nil {
		return types.Listing{}, fmt.Errorf("scan listing: %w", err)
	}
	l.Seq = uint64(seq)
	l.AssetID = uint64(assetID)
	l.Price = uint64(price)
	l.Seller = types.Address(seller)
	l.Holder = types.Address(holder)
	return l, nil
}

func (s *Store) loadAssetsLocked() ([]types.Asset, error) {
	rows, err := s.db.Query(`SELECT contract_ref, asset_id, owner, metadata_ref, approved
		FROM assets ORDER BY contract_ref, asset_id`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	out := []types.Asset{}
	for rows.Next() {
		var (
			a               types.Asset
			id              int64
			owner, approved string
		)
		if err := rows.Scan(&a.ContractRef, &id, &owner, &a.MetadataRef, &approved); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		a.ID = uint64(id)
		a.Owner = types.Address(owner)
		a.Approved = types.Address(approved)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) loadOperatorsLocked() ([]types.OperatorApproval, error) {
	rows, err := s.db.Query(`SELECT contract_ref, owner, operator FROM operators
		ORDER BY contract_ref, owner, operator`)
	if err != nil {
		return nil, fmt.Errorf("query operators: %w", err)
	}
	defer rows.Close()

	out := []types.OperatorApproval{}
	for rows.Next() {
		var op types.OperatorApproval
		var owner, operator string
		if err := rows.Scan(&op.ContractRef, &owner, &operator); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		op.Owner = types.Address(owner)
		op.Operator = types.Address(operator)
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) loadBalancesLocked() (map[types.Address]uint64, error) {
	rows, err := s.db.Query(`SELECT address, amount FROM balances`)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Address]uint64)
	for rows.Next() {
		var addr string
		var amount int64
		if err := rows.Scan(&addr, &amount); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out[types.Address(addr)] = uint64(amount)
	}
	return out, rows.Err()
}

func (s *Store) loadNoncesLocked() (map[types.Address]uint64, error) {
	rows, err := s.db.Query(`SELECT address, next FROM nonces`)
	if err != nil {
		return nil, fmt.Errorf("query nonces: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Address]uint64)
	for rows.Next() {
		var addr string
		var next int64
		if err := rows.Scan(&addr, &next); err != nil {
			return nil, fmt.Errorf("scan nonce: %w", err)
		}
		out[types.Address(addr)] = uint64(next)
	}
	return out, rows.Err()
}
