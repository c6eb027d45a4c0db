package solana

import "github.com/mr-tron/base58"

// AccountInfo is the decoded state of a single account.
type AccountInfo struct {
	Lamports   uint64
	Owner      PublicKey
	Data       []byte
	Executable bool
	RentEpoch  uint64
}

// KeyedAccount pairs an account with its address.
type KeyedAccount struct {
	Pubkey  PublicKey
	Account AccountInfo
}

// AccountFilter narrows getProgramAccounts and programSubscribe results.
// Exactly one of DataSize or Memcmp is set.
type AccountFilter struct {
	DataSize *uint64
	Memcmp   *MemcmpFilter
}

// MemcmpFilter matches accounts whose data at Offset equals Bytes.
type MemcmpFilter struct {
	Offset uint64
	Bytes  []byte
}

// DataSizeFilter builds a dataSize filter.
func DataSizeFilter(size uint64) AccountFilter {
	return AccountFilter{DataSize: &size}
}

// MemcmpKeyFilter builds a memcmp filter that matches a 32-byte key at offset.
func MemcmpKeyFilter(offset uint64, key PublicKey) AccountFilter {
	return AccountFilter{Memcmp: &MemcmpFilter{Offset: offset, Bytes: key.Bytes()}}
}

// rpcFilters converts filters into their JSON-RPC form.
func rpcFilters(filters []AccountFilter) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.DataSize != nil:
			out = append(out, map[string]interface{}{"dataSize": *f.DataSize})
		case f.Memcmp != nil:
			out = append(out, map[string]interface{}{
				"memcmp": map[string]interface{}{
					"offset": f.Memcmp.Offset,
					"bytes":  base58.Encode(f.Memcmp.Bytes),
				},
			})
		}
	}
	return out
}
