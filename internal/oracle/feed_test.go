package oracle

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x5th/x-leverage/internal/ledger"
)

func solID(t *testing.T) ledger.AssetID {
	id, ok := ledger.GetAssetID("SOL")
	require.True(t, ok)
	return id
}

func TestValidatePrice(t *testing.T) {
	assert.ErrorIs(t, ValidatePrice(0), ErrInvalidPrice)
	assert.ErrorIs(t, ValidatePrice(MaxPrice), ErrInvalidPrice)
	assert.NoError(t, ValidatePrice(MaxPrice-1))
	assert.NoError(t, ValidatePrice(1))
}

func TestPriceBook_Publish(t *testing.T) {
	pb := NewPriceBook()
	src := uuid.New()

	err := pb.Publish(Reading{SourceID: uuid.Nil, AssetID: solID(t), Price: 1, Decimals: 8, LastUpdateSlot: 1})
	assert.ErrorIs(t, err, ErrInvalidPriceSource)

	require.NoError(t, pb.Publish(Reading{SourceID: src, AssetID: solID(t), Price: 15_000_000_000, Decimals: 8, LastUpdateSlot: 10}))

	err = pb.Publish(Reading{SourceID: src, AssetID: solID(t), Price: 15_000_000_000, Decimals: 8, LastUpdateSlot: 9})
	assert.ErrorIs(t, err, ErrStaleUpdate)

	usdc, _ := ledger.GetAssetID("USDC")
	err = pb.Publish(Reading{SourceID: src, AssetID: usdc, Price: 100_000_000, Decimals: 8, LastUpdateSlot: 11})
	assert.ErrorIs(t, err, ErrSourceAssetChanged)

	r, err := pb.GetPrice(src)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), r.LastUpdateSlot)
}

func TestFreshPrice_StalenessAndRescale(t *testing.T) {
	pb := NewPriceBook()
	src := uuid.New()
	// 150.00000000 with 8 decimals
	require.NoError(t, pb.Publish(Reading{SourceID: src, AssetID: solID(t), Price: 15_000_000_000, Decimals: 8, LastUpdateSlot: 100}))

	price, _, err := FreshPrice(pb, src, 200, DefaultStalenessSlots, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000_000), price)

	_, _, err = FreshPrice(pb, src, 201, DefaultStalenessSlots, 6)
	assert.ErrorIs(t, err, ErrPriceStale)

	_, _, err = FreshPrice(pb, uuid.New(), 150, DefaultStalenessSlots, 6)
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestDeviationBps(t *testing.T) {
	dev, err := DeviationBps(100, 98)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), dev)

	dev, err = DeviationBps(98, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), dev)

	dev, err = DeviationBps(0, 0)
	require.NoError(t, err)
	assert.Zero(t, dev)
}

func TestCheckConsistency(t *testing.T) {
	pb := NewPriceBook()
	primary, near, far, stale := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	usdc, _ := ledger.GetAssetID("USDC")
	require.NoError(t, pb.Publish(Reading{SourceID: primary, AssetID: solID(t), Price: 100_000_000, Decimals: 6, LastUpdateSlot: 100}))
	require.NoError(t, pb.Publish(Reading{SourceID: near, AssetID: solID(t), Price: 98_500_000, Decimals: 6, LastUpdateSlot: 100}))
	require.NoError(t, pb.Publish(Reading{SourceID: far, AssetID: solID(t), Price: 90_000_000, Decimals: 6, LastUpdateSlot: 100}))
	require.NoError(t, pb.Publish(Reading{SourceID: stale, AssetID: solID(t), Price: 50_000_000, Decimals: 6, LastUpdateSlot: 1}))
	foreign := uuid.New()
	require.NoError(t, pb.Publish(Reading{SourceID: foreign, AssetID: usdc, Price: 1_000_000, Decimals: 6, LastUpdateSlot: 100}))

	check := func(sources ...uuid.UUID) error {
		return CheckConsistency(pb, 100_000_000, solID(t), sources, 150, DefaultStalenessSlots, 200, 6)
	}
	assert.NoError(t, check(primary, near))
	assert.NoError(t, check(primary, stale, foreign, uuid.New()), "missing, stale and foreign sources are skipped")
	assert.ErrorIs(t, check(primary, near, far), ErrInconsistentFeeds)
}
