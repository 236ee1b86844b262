// Package receipt renders payment receipts as PDF documents and stores them
// where customers can download them later.
package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

type Line struct {
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Document is everything printed on a receipt. It is built from the frozen
// order and the payment ledger row.
type Document struct {
	OrderID       int64
	TransactionID string
	Method        string
	Currency      string
	CustomerName  string
	CustomerEmail string
	PaidAt        time.Time
	Lines         []Line
}

func (d Document) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// FileName is the attachment name used for emails and uploads.
func (d Document) FileName() string {
	return "Receipt_" + d.TransactionID + ".pdf"
}

type Generator struct {
	merchantName  string
	merchantEmail string
	compress      bool
}

func NewGenerator(merchantName, merchantEmail string) *Generator {
	return &Generator{merchantName: merchantName, merchantEmail: merchantEmail, compress: true}
}

const (
	marginX = 15.0
	rightX  = 195.0
	qtyX    = 120.0
)

// Render lays out the receipt. The output only depends on d: the document
// dates come from PaidAt and catalog entries are written in sorted order.
func (g *Generator) Render(d Document) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(g.compress)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(d.PaidAt.UTC())
	pdf.SetModificationDate(d.PaidAt.UTC())
	pdf.SetTitle("Receipt "+d.TransactionID, true)
	pdf.SetAuthor(g.merchantName, true)
	pdf.SetAutoPageBreak(true, 25)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-20)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 5, tr("Thank you for your purchase."), "", 1, "C", false, 0, "")
		if g.merchantEmail != "" {
			pdf.CellFormat(0, 5, tr("For questions or support, contact: "+g.merchantEmail), "", 0, "C", false, 0, "")
		}
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 9, tr(strings.ToUpper(g.merchantName)), "", 1, "C", false, 0, "")
	if g.merchantEmail != "" {
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 6, tr("Email: "+g.merchantEmail), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)
	pdf.Line(marginX, pdf.GetY(), rightX, pdf.GetY())
	pdf.Ln(6)

	email := strings.ToLower(d.CustomerEmail)
	if email == "" {
		email = "N/A"
	}
	pdf.SetFont("Helvetica", "", 11)
	for _, row := range []string{
		"Customer: " + titleCase(d.CustomerName),
		"Email: " + email,
		"",
		"Transaction ID: " + d.TransactionID,
		fmt.Sprintf("Order ID: %d", d.OrderID),
		"Payment Method: " + titleCase(d.Method),
		"Date: " + d.PaidAt.UTC().Format("01/02/2006 03:04:05 PM MST"),
	} {
		pdf.CellFormat(0, 7, tr(row), "", 1, "L", false, 0, "")
	}
	pdf.Ln(5)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, "Order Items", "", 1, "L", false, 0, "")
	pdf.Line(marginX, pdf.GetY(), rightX, pdf.GetY())
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(100, 100, 100)
	g.row(pdf, "#", "Item", "Qty", "Amount")
	pdf.Line(marginX, pdf.GetY(), rightX, pdf.GetY())
	pdf.Ln(2)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 11)
	for i, l := range d.Lines {
		g.row(pdf,
			fmt.Sprint(i+1),
			tr(capitalize(l.Title)),
			fmt.Sprint(l.Quantity),
			d.Currency+" "+l.Total().StringFixed(2),
		)
	}
	pdf.Ln(2)
	pdf.Line(marginX, pdf.GetY(), rightX, pdf.GetY())
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 11)
	g.row(pdf, "", "", "TOTAL", d.Currency+" "+d.Total().StringFixed(2))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt %s: %w", d.TransactionID, err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) row(pdf *fpdf.Fpdf, num, item, qty, amount string) {
	pdf.SetX(marginX)
	pdf.CellFormat(10, 7, num, "", 0, "L", false, 0, "")
	pdf.CellFormat(qtyX-marginX-10, 7, item, "", 0, "L", false, 0, "")
	pdf.CellFormat(20, 7, qty, "", 0, "L", false, 0, "")
	pdf.CellFormat(rightX-qtyX-20, 7, amount, "", 1, "R", false, 0, "")
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
