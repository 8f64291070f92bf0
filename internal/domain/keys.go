package domain

import "fmt"

// DistributionKey forms the composite key for the Distributions map.
func DistributionKey(assetID, heirID uint64) string {
	return fmt.Sprintf("%d:%d", assetID, heirID)
}

// OverrideKey forms the composite key for the Overrides map.
func OverrideKey(heirID, assetID uint64) string {
	return fmt.Sprintf("%d:%d", heirID, assetID)
}

// PairKey forms the composite key for fungible custody / ck-withdraw maps.
func PairKey(assetID, heirID uint64) string {
	return fmt.Sprintf("%d:%d", assetID, heirID)
}

// NFTKey forms the composite key for NFT custody records.
func NFTKey(assetID, heirID, tokenID uint64) string {
	return fmt.Sprintf("%d:%d:%d", assetID, heirID, tokenID)
}

// AssetKey forms the composite key for asset-scoped reconciliation entries.
func AssetKey(assetID uint64) string {
	return fmt.Sprintf("%d", assetID)
}

// SetDistributionShare upserts one (asset, heir) distribution share,
// recording first-write order the first time the pair appears so callers
// that must process shares "in distribution insertion order" (§4.H) have
// something stable to range over instead of a Go map.
func (u *User) SetDistributionShare(assetID, heirID uint64, pct uint8, pref PayoutPreference) *DistributionShare {
	key := DistributionKey(assetID, heirID)
	d, exists := u.Distributions[key]
	if !exists {
		d = &DistributionShare{AssetID: assetID, HeirID: heirID}
		u.Distributions[key] = d
		u.DistributionOrder = append(u.DistributionOrder, key)
	}
	d.Percentage = pct
	d.Preference = pref
	return d
}

// RemoveDistributionShare deletes a share, pruning it from the order slice.
func (u *User) RemoveDistributionShare(assetID, heirID uint64) {
	key := DistributionKey(assetID, heirID)
	if _, ok := u.Distributions[key]; !ok {
		return
	}
	delete(u.Distributions, key)
	for i, k := range u.DistributionOrder {
		if k == key {
			u.DistributionOrder = append(u.DistributionOrder[:i], u.DistributionOrder[i+1:]...)
			break
		}
	}
}

// OrderedDistributions returns the distribution shares in first-write order.
// Any key present in the map but missing from DistributionOrder (e.g. a
// pre-migration snapshot) is appended afterward in map iteration order, so
// no share is ever silently skipped.
func (u *User) OrderedDistributions() []*DistributionShare {
	out := make([]*DistributionShare, 0, len(u.Distributions))
	seen := make(map[string]bool, len(u.Distributions))
	for _, key := range u.DistributionOrder {
		if d, ok := u.Distributions[key]; ok {
			out = append(out, d)
			seen[key] = true
		}
	}
	if len(seen) != len(u.Distributions) {
		for key, d := range u.Distributions {
			if !seen[key] {
				out = append(out, d)
			}
		}
	}
	return out
}
