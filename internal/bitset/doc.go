// Package bitset provides a thread-safe, lock-free, segmented bitset used to
// track soft-deleted graph ordinals. Readers may briefly observe a bit mid
// set/clear during concurrent removal; callers tolerate tombstones.
package bitset
