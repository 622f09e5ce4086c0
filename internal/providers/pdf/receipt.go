package pdf

import (
	"context"

	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type ReceiptData struct {
	InvoiceData
	DatePaid      string
	AmountPaid    string
	Method        string
	TransactionID string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	m := newDocument()

	m.AddRow(12,
		text.NewCol(12, "Receipt", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
	)
	m.AddRow(16,
		col.New(6).Add(
			text.New("Invoice number: "+receipt.InvoiceNumber, props.Text{Top: 0, Size: 9}),
			text.New("Date paid: "+receipt.DatePaid, props.Text{Top: 4, Size: 9}),
			text.New("Payment method: "+receipt.Method, props.Text{Top: 8, Size: 9}),
		),
		col.New(6).Add(
			text.New("Reference: "+receipt.TransactionID, props.Text{Top: 0, Size: 9, Align: align.Right}),
		),
	)
	addParties(m, receipt.InvoiceData)

	m.AddRow(12,
		text.NewCol(12, receipt.AmountPaid+" paid on "+receipt.DatePaid, props.Text{Size: 14, Style: fontstyle.Bold, Top: 3}),
	)
	addItems(m, receipt.Items)

	addTotal(m, "Subtotal", receipt.Subtotal, false)
	addTotal(m, receipt.TaxLabel, receipt.Tax, false)
	addTotal(m, "Amount paid", receipt.AmountPaid, true)

	return generate(m)
}
