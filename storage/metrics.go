package storage

import (
	"math/big"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
)

// Metrics tracks the gauges every content storage backend reports.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RadiusRatio         *metrics.GaugeFloat64
	EntriesCount        *metrics.Gauge
	ContentStorageUsage *metrics.Gauge
}

// NewMetrics registers the storage gauges of a network. It returns nil when
// metrics collection is disabled.
func NewMetrics(network string) *Metrics {
	if !metrics.Enabled() {
		return nil
	}
	m := &Metrics{
		RadiusRatio:         metrics.NewRegisteredGaugeFloat64("portal/"+network+"/radius_ratio", nil),
		EntriesCount:        metrics.NewRegisteredGauge("portal/"+network+"/entry_count", nil),
		ContentStorageUsage: metrics.NewRegisteredGauge("portal/"+network+"/content_storage", nil),
	}
	m.RadiusRatio.Update(1)
	return m
}

func (m *Metrics) UpdateRadius(radius *uint256.Int) {
	if m == nil {
		return
	}
	m.RadiusRatio.Update(RadiusRatio(radius))
}

func (m *Metrics) Update(entries int64, usage int64) {
	if m == nil {
		return
	}
	m.EntriesCount.Update(entries)
	m.ContentStorageUsage.Update(usage)
}

// RadiusRatio is radius / MaxDistance as a float in [0, 1].
func RadiusRatio(radius *uint256.Int) float64 {
	num := new(big.Float).SetInt(radius.ToBig())
	den := new(big.Float).SetInt(MaxDistance.ToBig())
	ratio, _ := new(big.Float).Quo(num, den).Float64()
	return ratio
}
