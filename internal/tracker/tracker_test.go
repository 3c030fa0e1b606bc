package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordBlockSequential(t *testing.T) {
	tr := New()
	for i := uint64(1); i <= 5; i++ {
		warnings := tr.RecordBlock("ethereum-mainnet", i)
		assert.Empty(t, warnings)
	}
	highest, ok := tr.Highest("ethereum-mainnet")
	assert.True(t, ok)
	assert.Equal(t, uint64(5), highest)
}

func TestRecordBlockDetectsGap(t *testing.T) {
	tr := New()
	tr.RecordBlock("ethereum-mainnet", 1)
	warnings := tr.RecordBlock("ethereum-mainnet", 5)
	assert.Len(t, warnings, 1)
	assert.Equal(t, "gap", warnings[0].Kind)
}

func TestRecordBlockDetectsDuplicate(t *testing.T) {
	tr := New()
	tr.RecordBlock("ethereum-mainnet", 10)
	warnings := tr.RecordBlock("ethereum-mainnet", 10)
	assert.Len(t, warnings, 1)
	assert.Equal(t, "duplicate", warnings[0].Kind)
}

func TestRecordBlockDetectsOutOfOrder(t *testing.T) {
	tr := New()
	tr.RecordBlock("ethereum-mainnet", 10)
	warnings := tr.RecordBlock("ethereum-mainnet", 5)
	assert.Len(t, warnings, 1)
	assert.Equal(t, "out_of_order", warnings[0].Kind)
}

func TestRecordBlockEvictsBeyondCapacity(t *testing.T) {
	tr := NewWithCapacity(3)
	tr.RecordBlock("net", 1)
	tr.RecordBlock("net", 2)
	tr.RecordBlock("net", 3)
	tr.RecordBlock("net", 4)

	// block 1 should have been evicted, so recording it again is not a
	// "duplicate" from the tracker's point of view anymore.
	warnings := tr.RecordBlock("net", 1)
	for _, w := range warnings {
		assert.NotEqual(t, "duplicate", w.Kind)
	}
}

func TestNetworksAreIndependent(t *testing.T) {
	tr := New()
	tr.RecordBlock("ethereum-mainnet", 100)
	warnings := tr.RecordBlock("stellar-pubnet", 1)
	assert.Empty(t, warnings)
}
