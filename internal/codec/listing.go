package codec

import (
	"fmt"

	"heimdall/internal/domain"
)

// DiscriminatorLength is the size of the account type tag preceding the fields.
const DiscriminatorLength = 8

// DecodeListing decodes a listing account payload.
// The discriminator is skipped without validation; the program owner already
// identifies the account type.
func DecodeListing(payload []byte) (*domain.ListingRecord, error) {
	if len(payload) < DiscriminatorLength {
		return nil, fmt.Errorf("%w: payload length %d shorter than discriminator", ErrDecode, len(payload))
	}

	r := &reader{buf: payload, off: DiscriminatorLength}
	var (
		rec domain.ListingRecord
		err error
	)

	if rec.Name, err = r.string("name"); err != nil {
		return nil, err
	}
	if rec.Seed, err = r.u64("seed"); err != nil {
		return nil, err
	}
	if rec.Mint, err = r.pubkey("mint"); err != nil {
		return nil, err
	}
	if rec.FundingGoal, err = r.u64("funding_goal"); err != nil {
		return nil, err
	}
	if rec.PoolMintSupply, err = r.u128("pool_mint_supply"); err != nil {
		return nil, err
	}
	if rec.FundingRaised, err = r.u64("funding_raised"); err != nil {
		return nil, err
	}
	if rec.AvailableTokens, err = r.u128("available_tokens"); err != nil {
		return nil, err
	}
	if rec.BasePrice, err = r.f64("base_price"); err != nil {
		return nil, err
	}
	if rec.TokensSold, err = r.u128("tokens_sold"); err != nil {
		return nil, err
	}
	if rec.Bump, err = r.u8("bump"); err != nil {
		return nil, err
	}
	if rec.VaultBump, err = r.u8("vault_bump"); err != nil {
		return nil, err
	}
	if rec.MintBump, err = r.u8("mint_bump"); err != nil {
		return nil, err
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EncodeListing serializes rec behind discriminator. It is the inverse of DecodeListing
// and is used to build fixtures and snapshot payloads.
func EncodeListing(discriminator [DiscriminatorLength]byte, rec *domain.ListingRecord) []byte {
	w := &writer{buf: make([]byte, 0, 128+len(rec.Name))}
	w.buf = append(w.buf, discriminator[:]...)
	w.string(rec.Name)
	w.u64(rec.Seed)
	w.pubkey(rec.Mint)
	w.u64(rec.FundingGoal)
	w.u128(rec.PoolMintSupply)
	w.u64(rec.FundingRaised)
	w.u128(rec.AvailableTokens)
	w.f64(rec.BasePrice)
	w.u128(rec.TokensSold)
	w.u8(rec.Bump)
	w.u8(rec.VaultBump)
	w.u8(rec.MintBump)
	return w.buf
}
