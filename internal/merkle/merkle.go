// Package merkle computes the deterministic attestation hash over a user's
// transfer ledger.
package merkle

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/civkeep/estateguardian/internal/auditlog"
	"github.com/civkeep/estateguardian/internal/domain"
)

// leaf hashes one transfer record into a 32-byte leaf. The byte layout is
// id | timestamp | asset | heir | kind byte | amount | preference byte |
// tx_index (presence byte + value) | error_kind byte, each integer encoded
// big-endian at fixed width so the hash is stable across platforms.
func leaf(r *domain.TransferRecord) [32]byte {
	buf := make([]byte, 0, 8*5+1+1+1+1)
	var tmp [8]byte

	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}

	putU64(r.ID)
	putU64(r.Timestamp)
	putU64(r.AssetID)
	putU64(r.HeirID)
	buf = append(buf, byte(r.Kind))
	putU64(r.Amount)
	buf = append(buf, byte(r.Preference))
	if r.TxIndex != nil {
		buf = append(buf, 1)
		putU64(*r.TxIndex)
	} else {
		buf = append(buf, 0)
		putU64(0)
	}
	buf = append(buf, byte(r.ErrorKind))

	return sha256.Sum256(buf)
}

// fold combines two leaves (or subtree roots) into their parent hash.
func fold(left, right [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// Root computes the Merkle root of an ordered transfer log. An odd node at
// any level is promoted unchanged to the next level rather than duplicated,
// so a single-record log's root is its own leaf hash.
func Root(transfers []*domain.TransferRecord) [32]byte {
	if len(transfers) == 0 {
		return sha256.Sum256(nil)
	}
	level := make([][32]byte, len(transfers))
	for i, r := range transfers {
		level[i] = leaf(r)
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, fold(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

// Compute is compute_ledger_attestation: it hashes the full transfer log,
// persists the attestation on the user, and returns the root.
func Compute(u *domain.User, nowSecs uint64) [32]byte {
	root := Root(u.Transfers)
	u.Attestation = &domain.LedgerAttestation{
		MerkleRoot:    root,
		ComputedAt:    nowSecs,
		TransferCount: len(u.Transfers),
	}
	auditlog.Append(u, nowSecs, domain.EventLedgerAttested, nil, nil, map[string]interface{}{
		"transfer_count": len(u.Transfers),
	})
	return root
}
