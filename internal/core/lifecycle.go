package core

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"kittycore/pkg/domain"
)

// age is the number of blocks since creation, zero for a future creation block.
func age(kitty Kitty, now BlockNumber) BlockNumber {
	if now < kitty.CreatedAt {
		return 0
	}
	return now - kitty.CreatedAt
}

func isAlive(params Params, kitty Kitty, now BlockNumber) bool {
	return age(kitty, now) < params.MaxAge
}

func canBreed(params Params, kitty Kitty, now BlockNumber) bool {
	a := age(kitty, now)
	return a >= params.MinBreedAge && a <= params.MaxBreedAge
}

// combineDNA takes each bit from p1 where sel is set and from p2 otherwise.
func combineDNA(p1, p2, sel DNA) DNA {
	var out DNA
	for i := range out {
		out[i] = (sel[i] & p1[i]) | (^sel[i] & p2[i])
	}
	return out
}

// randomValue hashes the seed with the caller and position of the call to a
// 16 byte value. Equal inputs give equal outputs.
func randomValue(seed [32]byte, caller AccountID, extrinsic uint32, block BlockNumber) DNA {
	h, err := blake2b.New(domain.DNASize, nil)
	if err != nil {
		// only returned for invalid sizes or oversized keys
		panic(err)
	}
	buf := make([]byte, 0, len(seed)+2+len(caller)+4+8)
	buf = append(buf, seed[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(caller)))
	buf = append(buf, caller...)
	buf = binary.LittleEndian.AppendUint32(buf, extrinsic)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(block))
	_, _ = h.Write(buf)
	var out DNA
	copy(out[:], h.Sum(nil))
	return out
}
