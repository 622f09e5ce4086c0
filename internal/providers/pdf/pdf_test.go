package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleInvoice() InvoiceData {
	return InvoiceData{
		CompanyName:   "Acme Pte Ltd",
		InvoiceNumber: "INV-20240101-090000",
		Status:        "SENT",
		IssueDate:     "01 Jan 2024",
		DueDate:       "31 Jan 2024",
		BillToName:    "Jane",
		BillToEmail:   "jane@example.test",
		Items: []InvoiceItem{
			{Description: "Consulting", Qty: 2, UnitPrice: "500.00", Amount: "1000.00"},
		},
		Subtotal:  "SGD 1000.00",
		TaxLabel:  "Tax (9%)",
		Tax:       "SGD 90.00",
		AmountDue: "SGD 1090.00",
	}
}

func TestGenerateInvoice(t *testing.T) {
	out, err := New().GenerateInvoice(context.Background(), sampleInvoice())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestGenerateReceipt(t *testing.T) {
	out, err := New().GenerateReceipt(context.Background(), ReceiptData{
		InvoiceData:   sampleInvoice(),
		DatePaid:      "15 Jan 2024",
		AmountPaid:    "SGD 1090.00",
		Method:        "Stripe",
		TransactionID: "cs_test_123",
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
