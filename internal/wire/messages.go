// Package wire holds the ListingStream protobuf messages and their gRPC plumbing.
// Messages are encoded with protowire and are byte-compatible with
// api/listing_stream.proto. Field numbers and json tags follow the proto
// field names; TestMessages_MatchProtoFieldNumbers fails when they drift.
package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// UpdateType selects which update kinds a subscriber receives.
type UpdateType int32

const (
	UpdateTypeUnspecified UpdateType = 0
	UpdateTypeListing     UpdateType = 1
	UpdateTypeUserAssets  UpdateType = 2
)

// String returns the proto enum name.
func (u UpdateType) String() string {
	switch u {
	case UpdateTypeUnspecified:
		return "UPDATE_TYPE_UNSPECIFIED"
	case UpdateTypeListing:
		return "UPDATE_TYPE_LISTING"
	case UpdateTypeUserAssets:
		return "UPDATE_TYPE_USER_ASSETS"
	default:
		return fmt.Sprintf("UpdateType(%d)", int32(u))
	}
}

// StreamRequest filters a stream. Empty fields match everything.
type StreamRequest struct {
	ProgramIds  []string     `json:"program_ids,omitempty"`
	UpdateTypes []UpdateType `json:"update_types,omitempty"`
}

// StreamResponse carries exactly one of Listing or UserAssets.
type StreamResponse struct {
	Listing    *Listing    `json:"listing,omitempty"`
	UserAssets *UserAssets `json:"user_assets,omitempty"`
}

// Listing mirrors one listings row.
type Listing struct {
	Account         string  `json:"account"`
	Name            string  `json:"name"`
	Seed            uint64  `json:"seed"`
	Mint            string  `json:"mint"`
	FundingGoal     uint64  `json:"funding_goal"`
	PoolMintSupply  string  `json:"pool_mint_supply"`
	FundingRaised   uint64  `json:"funding_raised"`
	AvailableTokens string  `json:"available_tokens"`
	BasePrice       float64 `json:"base_price"`
	TokensSold      string  `json:"tokens_sold"`
	Bump            uint32  `json:"bump"`
	VaultBump       uint32  `json:"vault_bump"`
	MintBump        uint32  `json:"mint_bump"`
	UpdatedAt       string  `json:"updated_at"`
	Program         string  `json:"program"`
	Slot            uint64  `json:"slot"`
}

// UserAssets is the latest snapshot of one tracked user.
type UserAssets struct {
	Address         string  `json:"address"`
	SolBalance      float64 `json:"sol_balance"`
	TokenHoldings   string  `json:"token_holdings"`
	NftHoldings     string  `json:"nft_holdings"`
	UpdatedAt       string  `json:"updated_at"`
	Seq             int64   `json:"seq"`
	Slot            uint64  `json:"slot"`
	SolBalanceExact string  `json:"sol_balance_exact"`
}

// ErrWireType is returned when a known field arrives with the wrong wire type.
var ErrWireType = errors.New("wire: unexpected wire type")

// Marshal encodes the message.
func (m *StreamRequest) Marshal() ([]byte, error) {
	var b []byte
	for _, id := range m.ProgramIds {
		b = appendString(b, 1, id, true)
	}
	if len(m.UpdateTypes) > 0 {
		var packed []byte
		for _, u := range m.UpdateTypes {
			packed = protowire.AppendVarint(packed, uint64(int64(u)))
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b, nil
}

// Unmarshal decodes the message, replacing its contents.
func (m *StreamRequest) Unmarshal(b []byte) error {
	*m = StreamRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.ProgramIds = append(m.ProgramIds, v)
			return n, err
		case 2:
			switch typ {
			case protowire.VarintType:
				v, n := protowire.ConsumeVarint(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				m.UpdateTypes = append(m.UpdateTypes, UpdateType(int32(v)))
				return n, nil
			case protowire.BytesType:
				packed, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				for len(packed) > 0 {
					v, vn := protowire.ConsumeVarint(packed)
					if vn < 0 {
						return 0, protowire.ParseError(vn)
					}
					m.UpdateTypes = append(m.UpdateTypes, UpdateType(int32(v)))
					packed = packed[vn:]
				}
				return n, nil
			}
			return 0, fmt.Errorf("%w: update_types %v", ErrWireType, typ)
		}
		return -1, nil
	})
}

// Marshal encodes the message.
func (m *StreamResponse) Marshal() ([]byte, error) {
	var b []byte
	switch {
	case m.Listing != nil && m.UserAssets != nil:
		return nil, errors.New("wire: StreamResponse has both listing and user_assets set")
	case m.Listing != nil:
		inner, _ := m.Listing.Marshal()
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	case m.UserAssets != nil:
		inner, _ := m.UserAssets.Marshal()
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b, nil
}

// Unmarshal decodes the message, replacing its contents. The last oneof member wins.
func (m *StreamResponse) Unmarshal(b []byte) error {
	*m = StreamResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 && num != 2 {
			return -1, nil
		}
		if typ != protowire.BytesType {
			return 0, fmt.Errorf("%w: field %d %v", ErrWireType, num, typ)
		}
		inner, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if num == 1 {
			l := &Listing{}
			if err := l.Unmarshal(inner); err != nil {
				return 0, fmt.Errorf("listing: %w", err)
			}
			m.Listing, m.UserAssets = l, nil
		} else {
			u := &UserAssets{}
			if err := u.Unmarshal(inner); err != nil {
				return 0, fmt.Errorf("user_assets: %w", err)
			}
			m.Listing, m.UserAssets = nil, u
		}
		return n, nil
	})
}

// Marshal encodes the message.
func (m *Listing) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Account, false)
	b = appendString(b, 2, m.Name, false)
	b = appendVarint(b, 3, m.Seed)
	b = appendString(b, 4, m.Mint, false)
	b = appendVarint(b, 5, m.FundingGoal)
	b = appendString(b, 6, m.PoolMintSupply, false)
	b = appendVarint(b, 7, m.FundingRaised)
	b = appendString(b, 8, m.AvailableTokens, false)
	b = appendDouble(b, 9, m.BasePrice)
	b = appendString(b, 10, m.TokensSold, false)
	b = appendVarint(b, 11, uint64(m.Bump))
	b = appendVarint(b, 12, uint64(m.VaultBump))
	b = appendVarint(b, 13, uint64(m.MintBump))
	b = appendString(b, 14, m.UpdatedAt, false)
	b = appendString(b, 15, m.Program, false)
	b = appendVarint(b, 16, m.Slot)
	return b, nil
}

// Unmarshal decodes the message, replacing its contents.
func (m *Listing) Unmarshal(b []byte) error {
	*m = Listing{}
	strs := map[protowire.Number]*string{
		1: &m.Account, 2: &m.Name, 4: &m.Mint, 6: &m.PoolMintSupply,
		8: &m.AvailableTokens, 10: &m.TokensSold, 14: &m.UpdatedAt, 15: &m.Program,
	}
	u64s := map[protowire.Number]*uint64{3: &m.Seed, 5: &m.FundingGoal, 7: &m.FundingRaised, 16: &m.Slot}
	u32s := map[protowire.Number]*uint32{11: &m.Bump, 12: &m.VaultBump, 13: &m.MintBump}

	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if p, ok := strs[num]; ok {
			v, n, err := consumeString(typ, b)
			*p = v
			return n, err
		}
		if p, ok := u64s[num]; ok {
			v, n, err := consumeVarint(typ, b)
			*p = v
			return n, err
		}
		if p, ok := u32s[num]; ok {
			v, n, err := consumeVarint(typ, b)
			*p = uint32(v)
			return n, err
		}
		if num == 9 {
			v, n, err := consumeDouble(typ, b)
			m.BasePrice = v
			return n, err
		}
		return -1, nil
	})
}

// Marshal encodes the message.
func (m *UserAssets) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Address, false)
	b = appendDouble(b, 2, m.SolBalance)
	b = appendString(b, 3, m.TokenHoldings, false)
	b = appendString(b, 4, m.NftHoldings, false)
	b = appendString(b, 5, m.UpdatedAt, false)
	b = appendVarint(b, 6, uint64(m.Seq))
	b = appendVarint(b, 7, m.Slot)
	b = appendString(b, 8, m.SolBalanceExact, false)
	return b, nil
}

// Unmarshal decodes the message, replacing its contents.
func (m *UserAssets) Unmarshal(b []byte) error {
	*m = UserAssets{}
	strs := map[protowire.Number]*string{
		1: &m.Address, 3: &m.TokenHoldings, 4: &m.NftHoldings, 5: &m.UpdatedAt, 8: &m.SolBalanceExact,
	}

	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if p, ok := strs[num]; ok {
			v, n, err := consumeString(typ, b)
			*p = v
			return n, err
		}
		switch num {
		case 2:
			v, n, err := consumeDouble(typ, b)
			m.SolBalance = v
			return n, err
		case 6:
			v, n, err := consumeVarint(typ, b)
			m.Seq = int64(v)
			return n, err
		case 7:
			v, n, err := consumeVarint(typ, b)
			m.Slot = v
			return n, err
		}
		return -1, nil
	})
}

// Field helpers. Proto3 scalars equal to their zero value are omitted.

func appendString(b []byte, num protowire.Number, s string, always bool) []byte {
	if s == "" && !always {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// consumeFields walks every field in b. fn returns the bytes it consumed, or -1
// to have an unknown field skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("%w: string field %v", ErrWireType, typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: varint field %v", ErrWireType, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, fmt.Errorf("%w: double field %v", ErrWireType, typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return math.Float64frombits(v), n, nil
}
