package receipt

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

func sampleSale() *domain.SalesRecord {
	return &domain.SalesRecord{
		ID:      "a1b2c3d4",
		At:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Cashier: "amina",
		Lines: []domain.CartLine{
			{ProductID: "soda-300", Name: "Soda 300ml", UnitPrice: decimal.RequireFromString("1500"), Qty: 2},
			{ProductID: "bread-loaf", Name: "Bread Loaf", UnitPrice: decimal.RequireFromString("4500"), Qty: 1},
		},
		Subtotal: decimal.RequireFromString("7500"),
		Discount: decimal.RequireFromString("500"),
		Total:    decimal.RequireFromString("7000"),
		Payment:  decimal.RequireFromString("10000"),
		Change:   decimal.RequireFromString("3000"),
	}
}

func TestRenderPreviewText(t *testing.T) {
	out := Render(sampleSale(), Options{ShopName: "Kalerwe Mini Mart", Currency: "UGX"})

	for _, want := range []string{
		"Kalerwe Mini Mart",
		"served by amina",
		"Soda 300ml",
		"2 x 1500",
		"Discount",
		"-500",
		"TOTAL UGX",
		"7000",
		"Change",
		"3000",
		"a1b2c3d4",
	} {
		if !strings.Contains(out.PreviewText, want) {
			t.Fatalf("preview missing %q:\n%s", want, out.PreviewText)
		}
	}

	if out.FileName != "receipt-a1b2c3d4.txt" {
		t.Fatalf("unexpected file name %q", out.FileName)
	}
}

func TestRenderEscposFraming(t *testing.T) {
	out := Render(sampleSale(), Options{})

	raw, err := base64.StdEncoding.DecodeString(out.EscposBase64)
	if err != nil {
		t.Fatalf("decode escpos payload: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte{0x1B, 0x40}) {
		t.Fatalf("payload must start with ESC @ initialize")
	}
	if !bytes.HasSuffix(raw, []byte{0x1D, 0x56, 0x00}) {
		t.Fatalf("payload must end with GS V full cut")
	}
	if !bytes.Contains(raw, []byte("DukaPOS")) {
		t.Fatalf("default shop name missing from payload")
	}
}

func TestRenderTruncatesLongNames(t *testing.T) {
	rec := sampleSale()
	rec.Lines[0].Name = strings.Repeat("Long Product Name ", 4)

	out := Render(rec, Options{})
	for _, line := range strings.Split(out.PreviewText, "\n") {
		if utf8.RuneCountInString(line) > 32 {
			t.Fatalf("line wider than paper: %q", line)
		}
	}
}

func TestRenderHandlesNonASCIINames(t *testing.T) {
	rec := sampleSale()
	rec.Lines[0].Name = "Café au Lait Instantané 250g Größe Übergroß"
	rec.Cashier = "nâkato"

	out := Render(rec, Options{ShopName: "Dūka ya Mtaani"})
	if !utf8.ValidString(out.PreviewText) {
		t.Fatalf("truncation produced invalid UTF-8:\n%s", out.PreviewText)
	}
	for _, line := range strings.Split(out.PreviewText, "\n") {
		if utf8.RuneCountInString(line) > 32 {
			t.Fatalf("line wider than paper: %q", line)
		}
	}
	if !strings.Contains(out.PreviewText, "Café au Lait") {
		t.Fatalf("accented name missing from preview:\n%s", out.PreviewText)
	}
	if !strings.Contains(out.PreviewText, "~") {
		t.Fatalf("expected long name to be truncated with a marker:\n%s", out.PreviewText)
	}
}
