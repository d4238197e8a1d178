package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Default separator widths
	DefaultWidth = 80
	WideWidth    = 100

	lamportDecimals = 9
)

// FormatSol renders a lamport amount as SOL without trailing zeros.
func FormatSol(lamports int64) string {
	return decimal.New(lamports, -lamportDecimals).String() + " SOL"
}

// ShortRef abbreviates a signature or address for tabular output.
func ShortRef(ref string, keep int) string {
	if ref == "" {
		return "none"
	}
	if len(ref) > keep {
		return ref[:keep] + "..."
	}
	return ref
}

func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

func PrintSeparatorNewline(char string, width int) {
	fmt.Println("\n" + strings.Repeat(char, width))
}

// PrintHeader prints a title between two rules
func PrintHeader(title string, width int) {
	PrintSeparatorNewline("=", width)
	fmt.Println(title)
	PrintSeparator("=", width)
}

func PrintFooter(message string, width int) {
	PrintSeparatorNewline("=", width)
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// PrintBoxSeparator prints a box-drawing rule under an owner block
func PrintBoxSeparator(width int) {
	fmt.Println("├" + strings.Repeat("─", width))
}

// BoxPrefix returns the tree prefix for a list item
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix returns the prefix for detail lines under list items
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}
