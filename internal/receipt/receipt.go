// Package receipt renders a committed sale as a customer receipt, both as a
// plain-text preview and as raw ESC/POS bytes for a thermal printer.
package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"dukapos/backend/internal/domain"
)

const paperWidth = 32

// Options carry the shop identity printed in the header. Zero values fall
// back to something printable.
type Options struct {
	ShopName string
	Currency string
}

// Rendered is one receipt in every form a client needs: text for on-screen
// preview, base64 ESC/POS for a printer bridge, and a stable file name for
// downloads.
type Rendered struct {
	PreviewText  string `json:"preview_text"`
	EscposBase64 string `json:"escpos_base64"`
	FileName     string `json:"file_name"`
}

// Render formats the sale. The record is read-only here; receipts are a pure
// projection of the ledger.
func Render(rec *domain.SalesRecord, opts Options) Rendered {
	shop := strings.TrimSpace(opts.ShopName)
	if shop == "" {
		shop = "DukaPOS"
	}
	currency := strings.TrimSpace(opts.Currency)
	if currency == "" {
		currency = "UGX"
	}

	var b strings.Builder
	b.WriteString(center(shop) + "\n")
	b.WriteString(center(rec.At.Format("2006-01-02 15:04")) + "\n")
	if rec.Cashier != "" {
		b.WriteString(center("served by "+rec.Cashier) + "\n")
	}
	b.WriteString(rule() + "\n")

	for _, line := range rec.Lines {
		b.WriteString(fit(line.Name, paperWidth) + "\n")
		left := fmt.Sprintf("  %d x %s", line.Qty, line.UnitPrice.StringFixed(0))
		b.WriteString(pair(left, line.LineTotal().StringFixed(0)) + "\n")
	}

	b.WriteString(rule() + "\n")
	b.WriteString(pair("Subtotal", rec.Subtotal.StringFixed(0)) + "\n")
	if rec.Discount.IsPositive() {
		b.WriteString(pair("Discount", "-"+rec.Discount.StringFixed(0)) + "\n")
	}
	b.WriteString(pair("TOTAL "+currency, rec.Total.StringFixed(0)) + "\n")
	b.WriteString(pair("Cash", rec.Payment.StringFixed(0)) + "\n")
	b.WriteString(pair("Change", rec.Change.StringFixed(0)) + "\n")
	b.WriteString(rule() + "\n")
	b.WriteString(center("Thank you!") + "\n")
	b.WriteString(center(rec.ID) + "\n")

	text := b.String()
	return Rendered{
		PreviewText:  text,
		EscposBase64: base64.StdEncoding.EncodeToString(escpos(text)),
		FileName:     fmt.Sprintf("receipt-%s.txt", rec.ID),
	}
}

// escpos wraps the text in the minimal command set: initialize, print, feed,
// full cut.
func escpos(text string) []byte {
	var out []byte
	out = append(out, 0x1B, 0x40) // ESC @ initialize
	out = append(out, []byte(text)...)
	out = append(out, '\n', '\n', '\n')
	out = append(out, 0x1D, 0x56, 0x00) // GS V full cut
	return out
}

func rule() string {
	return strings.Repeat("-", paperWidth)
}

func center(s string) string {
	s = fit(s, paperWidth)
	pad := (paperWidth - utf8.RuneCountInString(s)) / 2
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad) + s
}

// pair right-aligns value against label on one line, truncating the label if
// the two collide.
func pair(label, value string) string {
	space := paperWidth - utf8.RuneCountInString(value) - 1
	if space < 1 {
		return value
	}
	label = fit(label, space)
	return label + strings.Repeat(" ", space-utf8.RuneCountInString(label)) + " " + value
}

// fit measures in runes so that product names outside ASCII truncate on a
// character boundary instead of mid-byte.
func fit(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "~"
}
