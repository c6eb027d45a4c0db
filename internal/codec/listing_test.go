package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
)

var testDiscriminator = [DiscriminatorLength]byte{0xda, 0x4d, 0x2e, 0x1c, 0x5e, 0x0b, 0x9f, 0x33}

func sampleListing() *domain.ListingRecord {
	return &domain.ListingRecord{
		Name:            "Genesis Drop",
		Seed:            7,
		Mint:            solana.PublicKey{9, 9, 9},
		FundingGoal:     1_000_000,
		PoolMintSupply:  domain.MaxU128,
		FundingRaised:   250_000,
		AvailableTokens: domain.U128{Hi: 1, Lo: 2},
		BasePrice:       0.015,
		TokensSold:      domain.U128FromUint64(12345),
		Bump:            255,
		VaultBump:       254,
		MintBump:        253,
	}
}

func TestDecodeListing_RoundTrip(t *testing.T) {
	want := sampleListing()

	got, err := DecodeListing(EncodeListing(testDiscriminator, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "340282366920938463463374607431768211455", got.PoolMintSupply.String())
}

func TestDecodeListing_ZeroPadding(t *testing.T) {
	payload := EncodeListing(testDiscriminator, sampleListing())
	payload = append(payload, make([]byte, 64)...)

	got, err := DecodeListing(payload)
	require.NoError(t, err)
	assert.Equal(t, "Genesis Drop", got.Name)
}

func TestDecodeListing_EmptyName(t *testing.T) {
	rec := sampleListing()
	rec.Name = ""

	got, err := DecodeListing(EncodeListing(testDiscriminator, rec))
	require.NoError(t, err)
	assert.Equal(t, "", got.Name)
}

func TestDecodeListing_Errors(t *testing.T) {
	valid := EncodeListing(testDiscriminator, sampleListing())

	badUTF8 := EncodeListing(testDiscriminator, &domain.ListingRecord{Name: "ab"})
	badUTF8[DiscriminatorLength+4] = 0xff

	hugeName := append([]byte{}, valid[:DiscriminatorLength]...)
	hugeName = append(hugeName, 0xff, 0xff, 0xff, 0x7f)

	trailing := append(append([]byte{}, valid...), 0, 0, 1)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"nil", nil},
		{"shorter than discriminator", []byte{1, 2, 3}},
		{"discriminator only", valid[:DiscriminatorLength]},
		{"truncated tail", valid[:len(valid)-1]},
		{"truncated mid u128", valid[:DiscriminatorLength+4+12+8+32+8+5]},
		{"invalid utf8", badUTF8},
		{"name length overflows payload", hugeName},
		{"non-zero trailing bytes", trailing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodeListing(tt.payload)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Nil(t, rec)
		})
	}
}

func TestDecodeTokenAccount(t *testing.T) {
	want := TokenAccount{
		Mint:   solana.PublicKey{1},
		Owner:  solana.PublicKey{2},
		Amount: 42,
		State:  TokenAccountInitialized,
	}

	data := EncodeTokenAccount(want)
	require.Len(t, data, TokenAccountLength)
	assert.Equal(t, want.Owner[:], data[TokenAccountOwnerOffset:TokenAccountOwnerOffset+32])

	got, err := DecodeTokenAccount(data)
	require.NoError(t, err)
	assert.Equal(t, &want, got)

	frozen := want
	frozen.State = TokenAccountFrozen
	got, err = DecodeTokenAccount(EncodeTokenAccount(frozen))
	require.NoError(t, err)
	assert.Equal(t, TokenAccountFrozen, got.State)
}

func TestDecodeTokenAccount_Errors(t *testing.T) {
	uninit := EncodeTokenAccount(TokenAccount{Mint: solana.PublicKey{1}})

	badState := EncodeTokenAccount(TokenAccount{State: TokenAccountInitialized})
	badState[tokenAccountStateOffset] = 7

	for name, data := range map[string][]byte{
		"short":         make([]byte, 164),
		"long":          make([]byte, 166),
		"uninitialized": uninit,
		"unknown state": badState,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeTokenAccount(data)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}
