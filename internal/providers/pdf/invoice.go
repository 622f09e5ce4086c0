package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type InvoiceData struct {
	CompanyName    string
	CompanyAddress string
	CompanyEmail   string

	InvoiceNumber string
	Status        string
	IssueDate     string
	DueDate       string

	BillToName    string
	BillToCompany string
	BillToAddress string
	BillToEmail   string

	Items []InvoiceItem

	Subtotal  string
	TaxLabel  string
	Tax       string
	AmountDue string
	Notes     string
}

type InvoiceItem struct {
	Description string
	Qty         int64
	UnitPrice   string
	Amount      string
}

func (p *PDFProvider) GenerateInvoice(ctx context.Context, invoice InvoiceData) ([]byte, error) {
	m := newDocument()

	m.AddRow(12,
		text.NewCol(8, "Invoice", props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(4, invoice.Status, props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right, Top: 4}),
	)
	m.AddRow(16,
		col.New(6).Add(
			text.New("Invoice number: "+invoice.InvoiceNumber, props.Text{Top: 0, Size: 9}),
			text.New("Date of issue: "+invoice.IssueDate, props.Text{Top: 4, Size: 9}),
			text.New("Date due: "+invoice.DueDate, props.Text{Top: 8, Size: 9}),
		),
		col.New(6),
	)
	addParties(m, invoice)

	m.AddRow(12,
		text.NewCol(12, invoice.AmountDue+" due "+invoice.DueDate, props.Text{Size: 14, Style: fontstyle.Bold, Top: 3}),
	)
	addItems(m, invoice.Items)

	addTotal(m, "Subtotal", invoice.Subtotal, false)
	addTotal(m, invoice.TaxLabel, invoice.Tax, false)
	addTotal(m, "Amount due", invoice.AmountDue, true)

	if invoice.Notes != "" {
		m.AddRow(20, text.NewCol(12, invoice.Notes, props.Text{Size: 8, Top: 6}))
	}

	return generate(m)
}

func newDocument() core.Maroto {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	return maroto.New(cfg)
}

func addParties(m core.Maroto, data InvoiceData) {
	m.AddRow(32,
		col.New(6).Add(
			text.New(data.CompanyName, props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(data.CompanyAddress, props.Text{Top: 5, Size: 9}),
			text.New(data.CompanyEmail, props.Text{Top: 20, Size: 9}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(data.BillToName, props.Text{Top: 5, Size: 9}),
			text.New(data.BillToCompany, props.Text{Top: 9, Size: 9}),
			text.New(data.BillToAddress, props.Text{Top: 13, Size: 9}),
			text.New(data.BillToEmail, props.Text{Top: 24, Size: 9}),
		),
	)
}

func addItems(m core.Maroto, items []InvoiceItem) {
	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, item := range items {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}
}

func addTotal(m core.Maroto, label, value string, bold bool) {
	style := fontstyle.Normal
	if bold {
		style = fontstyle.Bold
	}
	m.AddRow(8,
		col.New(7),
		text.NewCol(3, label, props.Text{Size: 9, Style: style}),
		text.NewCol(2, value, props.Text{Size: 9, Style: style, Align: align.Right}),
	)
}

func generate(m core.Maroto) ([]byte, error) {
	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate pdf: %w", err)
	}
	return doc.GetBytes(), nil
}
