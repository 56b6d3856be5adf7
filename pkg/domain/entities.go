// Package domain defines the persistent records, value types, key layout and
// rule evaluation primitives shared by the kittycore state machine and its
// storage backends.
package domain

import (
	"encoding/hex"
	"math"
)

// AccountID identifies an owner of kitties and balances. Values are opaque to
// the state machine; the authentication collaborator decides their shape.
type AccountID string

// MaxAccountIDLen bounds account identifiers so they fit the key encoding.
const MaxAccountIDLen = 256

// Valid reports whether the identifier can be stored.
func (a AccountID) Valid() bool { return a != "" && len(a) <= MaxAccountIDLen }

// KittyIndex is the monotonically assigned identifier of a kitty.
type KittyIndex uint32

// MaxKittyIndex is the last representable identifier. Once the counter reaches
// it, creation and breeding are refused rather than wrapping.
const MaxKittyIndex KittyIndex = math.MaxUint32

// BlockNumber is the logical clock unit. Ages and creation times are measured
// in blocks.
type BlockNumber uint64

// Balance is an amount of the external currency.
type Balance uint64

// DNASize is the length of the genetic payload in bytes.
const DNASize = 16

// DNA is the genetic payload of a kitty.
type DNA [DNASize]byte

// String renders the payload as lowercase hex.
func (d DNA) String() string { return hex.EncodeToString(d[:]) }

// Kitty is the immutable record stored for every identifier ever minted.
type Kitty struct {
	DNA       DNA         `json:"dna"`
	CreatedAt BlockNumber `json:"created_at"`
}

// LinkedItem is a node of an owner's kitty list. For the sentinel entry Prev
// holds the last id and Next the first id. A nil pointer means there is no
// neighbor in that direction.
type LinkedItem struct {
	Prev *KittyIndex `json:"prev,omitempty"`
	Next *KittyIndex `json:"next,omitempty"`
}

// Params is the process-wide configuration record written once by init and
// afterwards only through admin-authorized updates.
type Params struct {
	MinBreedAge BlockNumber `json:"min_breed_age"`
	MaxBreedAge BlockNumber `json:"max_breed_age"`
	MaxAge      BlockNumber `json:"max_age"`
	Admin       AccountID   `json:"admin"`
	Initialized bool        `json:"initialized"`
}

// ValidAges reports whether the age bounds satisfy 0 < min <= maxBreed < maxAge.
func ValidAges(minBreed, maxBreed, maxAge BlockNumber) bool {
	return minBreed > 0 && minBreed <= maxBreed && maxBreed < maxAge
}

// Valid reports whether the stored bounds are mutually consistent.
func (p Params) Valid() bool {
	return ValidAges(p.MinBreedAge, p.MaxBreedAge, p.MaxAge)
}

// ExistenceRequirement tells the currency collaborator whether the payer may
// be reaped by a transfer.
type ExistenceRequirement int

const (
	// KeepAlive refuses transfers that would leave the payer below the
	// existential deposit.
	KeepAlive ExistenceRequirement = iota
	// AllowDeath lets the payer account be removed when it drops below the
	// existential deposit.
	AllowDeath
)

// String returns the requirement name.
func (r ExistenceRequirement) String() string {
	if r == AllowDeath {
		return "allow_death"
	}
	return "keep_alive"
}

// IndexPtr returns a pointer to a copy of id.
func IndexPtr(id KittyIndex) *KittyIndex { return &id }

// BalancePtr returns a pointer to a copy of b.
func BalancePtr(b Balance) *Balance { return &b }
