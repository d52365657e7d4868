package oracle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/ledger"
	fpmath "github.com/x5th/x-leverage/internal/math"
)

// DefaultStalenessSlots bounds how old a reading may be before it is no
// longer trusted for a liquidation freeze.
const DefaultStalenessSlots uint64 = 100

// MaxPrice is the exclusive upper bound on any accepted price. It keeps
// price * 10_000 inside 64 bits.
const MaxPrice = ^uint64(0) / fpmath.BpsDenominator

var (
	ErrInvalidPrice        = errors.New("oracle: price must be positive and below the overflow bound")
	ErrPriceNotFound       = errors.New("oracle: no reading for price source")
	ErrPriceStale          = errors.New("oracle: price is stale")
	ErrInvalidPriceSource  = errors.New("oracle: price source must not be the default identity")
	ErrSourceAssetChanged  = errors.New("oracle: price source already publishes another asset")
	ErrStaleUpdate         = errors.New("oracle: reading is older than the stored one")
	ErrInconsistentFeeds   = errors.New("oracle: price sources disagree beyond tolerance")
	ErrSourceAssetMismatch = errors.New("oracle: price source publishes another asset")
)

// ValidatePrice rejects zero prices and prices at or above MaxPrice.
func ValidatePrice(price uint64) error {
	if price == 0 || price >= MaxPrice {
		return fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	return nil
}

// Reading is a price published by a single source.
type Reading struct {
	SourceID       uuid.UUID
	AssetID        ledger.AssetID
	Price          uint64
	Decimals       uint8
	LastUpdateSlot uint64
}

// PriceFeed supplies signed prices and their last update slot.
type PriceFeed interface {
	GetPrice(sourceID uuid.UUID) (Reading, error)
}

// PriceBook is the in-engine price feed: the latest reading per source,
// written by oracle price update commands.
type PriceBook struct {
	readings map[uuid.UUID]Reading
}

func NewPriceBook() *PriceBook {
	return &PriceBook{readings: make(map[uuid.UUID]Reading)}
}

// Publish stores a reading after validating it.
func (pb *PriceBook) Publish(r Reading) error {
	if r.SourceID == uuid.Nil {
		return ErrInvalidPriceSource
	}
	if err := ValidatePrice(r.Price); err != nil {
		return err
	}
	if r.Decimals > fpmath.MaxDecimals {
		return fpmath.ErrDecimals
	}
	if prev, ok := pb.readings[r.SourceID]; ok {
		if prev.AssetID != r.AssetID {
			return ErrSourceAssetChanged
		}
		if r.LastUpdateSlot < prev.LastUpdateSlot {
			return ErrStaleUpdate
		}
	}
	pb.readings[r.SourceID] = r
	return nil
}

// GetPrice implements PriceFeed.
func (pb *PriceBook) GetPrice(sourceID uuid.UUID) (Reading, error) {
	r, ok := pb.readings[sourceID]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %s", ErrPriceNotFound, sourceID)
	}
	return r, nil
}

// Readings returns all readings ordered by source id.
func (pb *PriceBook) Readings() []Reading {
	out := make([]Reading, 0, len(pb.readings))
	for _, r := range pb.readings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].SourceID[:]) < string(out[j].SourceID[:])
	})
	return out
}

// Restore replaces the book's readings, used when loading a snapshot.
func (pb *PriceBook) Restore(readings []Reading) {
	pb.readings = make(map[uuid.UUID]Reading, len(readings))
	for _, r := range readings {
		pb.readings[r.SourceID] = r
	}
}

// Clone returns an independent copy.
func (pb *PriceBook) Clone() *PriceBook {
	c := NewPriceBook()
	for k, v := range pb.readings {
		c.readings[k] = v
	}
	return c
}

// FreshPrice reads a source, enforces now - lastUpdate <= maxAge, and
// rescales the price from the feed's decimals to valueDecimals.
func FreshPrice(feed PriceFeed, sourceID uuid.UUID, now, maxAge uint64, valueDecimals uint8) (uint64, Reading, error) {
	r, err := feed.GetPrice(sourceID)
	if err != nil {
		return 0, Reading{}, err
	}
	if now < r.LastUpdateSlot || now-r.LastUpdateSlot > maxAge {
		return 0, r, fmt.Errorf("%w: source %s updated at slot %d, now %d", ErrPriceStale, sourceID, r.LastUpdateSlot, now)
	}
	price, err := fpmath.Rescale(r.Price, r.Decimals, valueDecimals, fpmath.RoundDown)
	if err != nil {
		return 0, r, err
	}
	if err := ValidatePrice(price); err != nil {
		return 0, r, err
	}
	return price, r, nil
}

// DeviationBps returns |a - b| * 10_000 / max(a, b).
func DeviationBps(a, b uint64) (uint64, error) {
	hi, lo := max(a, b), min(a, b)
	if hi == 0 {
		return 0, nil
	}
	return fpmath.MulDiv(hi-lo, fpmath.BpsDenominator, hi)
}

// CheckConsistency compares price with every other fresh reading of asset
// among sources. Missing, stale and foreign-asset sources are skipped.
func CheckConsistency(feed PriceFeed, price uint64, asset ledger.AssetID, sources []uuid.UUID, now, maxAge, toleranceBps uint64, valueDecimals uint8) error {
	for _, id := range sources {
		other, r, err := FreshPrice(feed, id, now, maxAge, valueDecimals)
		if err != nil || r.AssetID != asset {
			continue
		}
		dev, err := DeviationBps(price, other)
		if err != nil {
			return err
		}
		if dev > toleranceBps {
			return fmt.Errorf("%w: source %s is %d bps away", ErrInconsistentFeeds, id, dev)
		}
	}
	return nil
}
