package domain

import (
	"encoding/binary"
	"fmt"
)

// State layout. Every map lives under a one byte prefix; integers are fixed
// width big-endian so keys of one map sort by id.
//
//	0x01 kitties       -> [id]               => Kitty
//	0x02 kitty count   ->                    => KittyIndex
//	0x03 owned kitties -> [owner][0|1 id]    => LinkedItem
//	0x04 kitty owners  -> [id]               => AccountID
//	0x05 kitty prices  -> [id]               => Balance
//	0x06 params        ->                    => Params
//	0x07 balances      -> [account]          => Balance
const (
	PrefixKitties      byte = 0x01
	PrefixKittiesCount byte = 0x02
	PrefixOwnedKitties byte = 0x03
	PrefixKittyOwners  byte = 0x04
	PrefixKittyPrices  byte = 0x05
	PrefixParams       byte = 0x06
	PrefixBalances     byte = 0x07
)

// KittyKey addresses a kitty record.
func KittyKey(id KittyIndex) []byte { return indexKey(PrefixKitties, id) }

// KittiesCountKey addresses the identifier counter.
func KittiesCountKey() []byte { return []byte{PrefixKittiesCount} }

// OwnerKey addresses the ownership entry of a kitty.
func OwnerKey(id KittyIndex) []byte { return indexKey(PrefixKittyOwners, id) }

// PriceKey addresses the listing of a kitty.
func PriceKey(id KittyIndex) []byte { return indexKey(PrefixKittyPrices, id) }

// ParamsKey addresses the configuration record.
func ParamsKey() []byte { return []byte{PrefixParams} }

// BalanceKey addresses the free balance of an account.
func BalanceKey(who AccountID) []byte { return accountKey(PrefixBalances, who) }

// OwnedKey addresses a linked index entry. A nil id selects the owner's
// sentinel.
func OwnedKey(owner AccountID, id *KittyIndex) []byte {
	key := accountKey(PrefixOwnedKitties, owner)
	if id == nil {
		return append(key, 0)
	}
	key = append(key, 1)
	return binary.BigEndian.AppendUint32(key, uint32(*id))
}

// OwnedPrefix returns the prefix shared by every linked index entry of owner.
func OwnedPrefix(owner AccountID) []byte { return accountKey(PrefixOwnedKitties, owner) }

// ParseOwnedKey is the inverse of OwnedKey.
func ParseOwnedKey(key []byte) (AccountID, *KittyIndex, error) {
	if len(key) < 3 || key[0] != PrefixOwnedKitties {
		return "", nil, fmt.Errorf("not an owned kitties key: %x", key)
	}
	n := int(binary.BigEndian.Uint16(key[1:3]))
	rest := key[3:]
	if len(rest) < n+1 {
		return "", nil, fmt.Errorf("truncated owned kitties key: %x", key)
	}
	owner := AccountID(rest[:n])
	switch tail := rest[n:]; {
	case len(tail) == 1 && tail[0] == 0:
		return owner, nil, nil
	case len(tail) == 5 && tail[0] == 1:
		id := KittyIndex(binary.BigEndian.Uint32(tail[1:]))
		return owner, &id, nil
	default:
		return "", nil, fmt.Errorf("malformed owned kitties key: %x", key)
	}
}

// ParseIndexKey extracts the kitty id from a kitties, owners or prices key.
func ParseIndexKey(key []byte) (byte, KittyIndex, error) {
	if len(key) != 5 {
		return 0, 0, fmt.Errorf("malformed index key: %x", key)
	}
	return key[0], KittyIndex(binary.BigEndian.Uint32(key[1:])), nil
}

func indexKey(prefix byte, id KittyIndex) []byte {
	key := make([]byte, 1, 5)
	key[0] = prefix
	return binary.BigEndian.AppendUint32(key, uint32(id))
}

func accountKey(prefix byte, who AccountID) []byte {
	key := make([]byte, 0, 3+len(who)+5)
	key = append(key, prefix)
	key = binary.BigEndian.AppendUint16(key, uint16(len(who)))
	return append(key, who...)
}
