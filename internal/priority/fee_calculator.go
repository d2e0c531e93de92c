package priority

import (
	"context"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Urgency represents the priority level for a transaction
type Urgency uint8

const (
	// UrgencyLow uses p50 (median) priority fee
	UrgencyLow Urgency = iota
	// UrgencyMedium uses p75 priority fee
	UrgencyMedium
	// UrgencyHigh uses p90 priority fee, used for repays
	UrgencyHigh
	// UrgencyExtreme uses p99 priority fee
	UrgencyExtreme
)

// ParseUrgency maps a config value to an Urgency, defaulting to medium.
func ParseUrgency(s string) Urgency {
	switch s {
	case "low":
		return UrgencyLow
	case "high":
		return UrgencyHigh
	case "extreme":
		return UrgencyExtreme
	default:
		return UrgencyMedium
	}
}

// DefaultFees are fallback fees when RPC fails (microLamports per CU)
var DefaultFees = map[Urgency]uint64{
	UrgencyLow:     1000,
	UrgencyMedium:  10000,
	UrgencyHigh:    100000,
	UrgencyExtreme: 1000000,
}

// minFeePerCU is the floor applied to sampled fees
const minFeePerCU = 100

// FeeSource returns recent non-zero prioritization fees for the accounts.
type FeeSource func(ctx context.Context, accounts []solana.PublicKey) ([]uint64, error)

// RPCFeeSource reads recent prioritization fees from an RPC node.
func RPCFeeSource(client *rpc.Client) FeeSource {
	return func(ctx context.Context, accounts []solana.PublicKey) ([]uint64, error) {
		recent, err := client.GetRecentPrioritizationFees(ctx, accounts)
		if err != nil {
			return nil, err
		}
		fees := make([]uint64, 0, len(recent))
		for _, fee := range recent {
			if fee.PrioritizationFee > 0 {
				fees = append(fees, fee.PrioritizationFee)
			}
		}
		return fees, nil
	}
}

// FeeCalculator calculates priority fees based on network conditions
type FeeCalculator struct {
	source FeeSource
}

func NewFeeCalculator(source FeeSource) *FeeCalculator {
	return &FeeCalculator{source: source}
}

// PriorityFeeResult holds the calculated fee information
type PriorityFeeResult struct {
	FeePerCU    uint64 // microLamports per compute unit
	Urgency     Urgency
	Percentile  int
	SampleCount int
}

// GetOptimalFee picks the urgency percentile of recent fees. It falls back to
// DefaultFees when the source fails or has no samples.
func (f *FeeCalculator) GetOptimalFee(ctx context.Context, urgency Urgency, accounts []solana.PublicKey) *PriorityFeeResult {
	fallback := &PriorityFeeResult{
		FeePerCU:   DefaultFees[urgency],
		Urgency:    urgency,
		Percentile: getPercentileForUrgency(urgency),
	}
	if f.source == nil {
		return fallback
	}

	fees, err := f.source(ctx, accounts)
	if err != nil || len(fees) == 0 {
		return fallback
	}

	sorted := append([]uint64(nil), fees...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	percentile := getPercentileForUrgency(urgency)
	feePerCU := calculatePercentile(sorted, percentile)
	if feePerCU < minFeePerCU {
		feePerCU = minFeePerCU
	}

	return &PriorityFeeResult{
		FeePerCU:    feePerCU,
		Urgency:     urgency,
		Percentile:  percentile,
		SampleCount: len(sorted),
	}
}

func getPercentileForUrgency(urgency Urgency) int {
	switch urgency {
	case UrgencyLow:
		return 50
	case UrgencyMedium:
		return 75
	case UrgencyHigh:
		return 90
	case UrgencyExtreme:
		return 99
	default:
		return 75
	}
}

// calculatePercentile returns the linearly interpolated value at percentile
func calculatePercentile(sorted []uint64, percentile int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	if percentile <= 0 {
		return sorted[0]
	}
	if percentile >= 100 {
		return sorted[len(sorted)-1]
	}

	k := float64(percentile) / 100.0 * float64(len(sorted)-1)
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		c = len(sorted) - 1
	}

	d := k - float64(f)
	return uint64(float64(sorted[f])*(1-d) + float64(sorted[c])*d)
}
