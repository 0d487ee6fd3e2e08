// Package ui renders live replay status to an ANSI terminal.
package ui

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	MoveToStart = "\r"
	MoveUp      = "\033[%dA"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Quote is one symbol's top of book.
type Quote struct {
	Symbol  string
	Bid     float64
	BidSize float64
	Ask     float64
	AskSize float64
	// Imbalance is in [-1, 1]; positive means bid pressure.
	Imbalance float64
}

// Position is one open position line.
type Position struct {
	Symbol        string
	NetSize       decimal.Decimal
	AveragePrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Frame is one snapshot of a replay in flight.
type Frame struct {
	Order       int
	TotalOrders int
	LastSymbol  string
	LastStatus  string
	FillRatePct float64
	StartEquity float64
	Equity      float64
	Quotes      []Quote
	Positions   []Position
	Trust       map[string]float64
}

// StatusView draws frames in place, overwriting the previous one.
type StatusView struct {
	width  int
	height int

	// Track lines printed for cleanup
	linesPrinted int
}

// NewStatusView creates a status view sized to the terminal.
func NewStatusView() *StatusView {
	width, height := getTerminalSize()
	return &StatusView{width: width, height: height}
}

// Start initializes the view.
func (v *StatusView) Start() {
	fmt.Print(HideCursor)
	fmt.Println()
}

// Stop cleans up the view.
func (v *StatusView) Stop() {
	fmt.Print(ShowCursor)
	fmt.Println()
}

// Render draws one frame.
func (v *StatusView) Render(f Frame) {
	// Move cursor up to overwrite previous frame
	if v.linesPrinted > 0 {
		fmt.Printf(MoveUp, v.linesPrinted)
	}

	var lines []string
	lines = append(lines, v.progressLine(f))
	lines = append(lines, v.quoteLines(f.Quotes)...)
	lines = append(lines, v.positionLines(f.Positions)...)
	lines = append(lines, v.trustLines(f.Trust)...)
	lines = append(lines, v.statsLine(f))

	for _, line := range lines {
		fmt.Print(ClearLine)
		fmt.Println(line)
	}
	v.linesPrinted = len(lines)
}

func (v *StatusView) progressLine(f Frame) string {
	progress := 0.0
	if f.TotalOrders > 0 {
		progress = float64(f.Order) / float64(f.TotalOrders)
	}
	barWidth := v.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	filled := int(progress * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	return fmt.Sprintf("%s%s %.1f%% [%d/%d]%s",
		ColorCyan, bar, progress*100, f.Order, f.TotalOrders, ColorReset)
}

func (v *StatusView) quoteLines(quotes []Quote) []string {
	lines := []string{ColorDim + "BOOK" + ColorReset}
	if len(quotes) == 0 {
		return append(lines, ColorDim+"  (no quotes)"+ColorReset)
	}
	for _, q := range quotes {
		imbColor := ColorGreen
		if q.Imbalance < 0 {
			imbColor = ColorRed
		}
		lines = append(lines, fmt.Sprintf("  %-10s %s%12.2f%s ×%-6.0f │ %s%12.2f%s ×%-6.0f │ imb %s%+.2f%s",
			q.Symbol,
			ColorGreen, q.Bid, ColorReset, q.BidSize,
			ColorRed, q.Ask, ColorReset, q.AskSize,
			imbColor, q.Imbalance, ColorReset))
	}
	return lines
}

func (v *StatusView) positionLines(positions []Position) []string {
	lines := []string{ColorDim + "POSITIONS" + ColorReset}
	if len(positions) == 0 {
		return append(lines, ColorDim+"  (flat)"+ColorReset)
	}
	sorted := make([]Position, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	for _, p := range sorted {
		sizeColor := ColorGreen
		if p.NetSize.IsNegative() {
			sizeColor = ColorRed
		}
		pnlColor := ColorGreen
		if p.UnrealizedPnL.IsNegative() {
			pnlColor = ColorRed
		}
		lines = append(lines, fmt.Sprintf("  %-10s %s%+v%s @ %v │ uPnL %s%v%s",
			p.Symbol,
			sizeColor, p.NetSize, ColorReset,
			p.AveragePrice.StringFixed(2),
			pnlColor, p.UnrealizedPnL.StringFixed(2), ColorReset))
	}
	return lines
}

func (v *StatusView) trustLines(trust map[string]float64) []string {
	lines := []string{ColorDim + "VENUES" + ColorReset}
	if len(trust) == 0 {
		return append(lines, ColorDim+"  (no attempts yet)"+ColorReset)
	}
	names := make([]string, 0, len(trust))
	for name := range trust {
		names = append(names, name)
	}
	sort.Strings(names)

	const barWidth = 20
	for _, name := range names {
		score := trust[name]
		filled := int(score * barWidth)
		if filled > barWidth {
			filled = barWidth
		}
		color := ColorGreen
		switch {
		case score < 0.25:
			color = ColorRed
		case score < 0.5:
			color = ColorYellow
		}
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		lines = append(lines, fmt.Sprintf("  %-10s %s%s%s %.3f", name, color, bar, ColorReset, score))
	}
	return lines
}

func (v *StatusView) statsLine(f Frame) string {
	pnlPct := 0.0
	if f.StartEquity > 0 {
		pnlPct = (f.Equity - f.StartEquity) / f.StartEquity * 100
	}
	pnlColor := ColorGreen
	if pnlPct < 0 {
		pnlColor = ColorRed
	}
	return fmt.Sprintf("%sEquity:%s $%.0f (%s%+.2f%%%s) │ %sFill rate:%s %.1f%% │ %sLast:%s %s %s%s%s",
		ColorBold, ColorReset, f.Equity,
		pnlColor, pnlPct, ColorReset,
		ColorBold, ColorReset, f.FillRatePct,
		ColorBold, ColorReset, f.LastSymbol,
		statusColor(f.LastStatus), f.LastStatus, ColorReset)
}

func statusColor(status string) string {
	switch status {
	case "COMPLETED":
		return ColorGreen
	case "PARTIAL":
		return ColorYellow
	default:
		return ColorRed
	}
}

// getTerminalSize returns terminal dimensions
func getTerminalSize() (width, height int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80, 24 // Default
	}
	return width, height
}

// ProgressLine prints a single updating progress line
func ProgressLine(current, total int, message string) {
	progress := float64(current) / float64(total) * 100
	fmt.Printf("%s%s[%d/%d] %.1f%% - %s", ClearLine, MoveToStart, current, total, progress, message)
}
