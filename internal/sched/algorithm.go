// Package sched selects an execution algorithm per order and expands
// admitted orders into time-ordered slice schedules.
package sched

// Algorithm identifies an execution algorithm.
type Algorithm int

const (
	AlgoTWAP Algorithm = iota
	AlgoVWAP
	AlgoImplementationShortfall
	AlgoIceberg
	AlgoPegged
	AlgoDMA
	AlgoSmartRouting
)

func (a Algorithm) String() string {
	switch a {
	case AlgoTWAP:
		return "TWAP"
	case AlgoVWAP:
		return "VWAP"
	case AlgoImplementationShortfall:
		return "IMPLEMENTATION_SHORTFALL"
	case AlgoIceberg:
		return "ICEBERG"
	case AlgoPegged:
		return "PEGGED"
	case AlgoDMA:
		return "DMA"
	case AlgoSmartRouting:
		return "SMART_ROUTING"
	default:
		return "UNKNOWN"
	}
}

// ParseAlgorithm maps an "executionMode" order parameter to an
// algorithm. Only the four dispatchable modes parse, case-sensitive;
// anything else reports false and selection falls through.
func ParseAlgorithm(mode string) (Algorithm, bool) {
	switch mode {
	case "TWAP":
		return AlgoTWAP, true
	case "VWAP":
		return AlgoVWAP, true
	case "Iceberg":
		return AlgoIceberg, true
	case "DMA":
		return AlgoDMA, true
	}
	return 0, false
}
