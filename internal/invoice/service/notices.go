package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/invoicer/internal/client/domain"
	invoicedomain "github.com/smallbiznis/invoicer/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/invoicer/internal/invoice/format"
	notificationdomain "github.com/smallbiznis/invoicer/internal/notification/domain"
	"github.com/smallbiznis/invoicer/internal/providers/pdf"
)

func (s *Service) Notice(ctx context.Context, inv invoicedomain.Invoice) (notificationdomain.InvoiceNotice, error) {
	client, err := s.clientRepo.FindByID(ctx, s.db, inv.ClientID)
	if err != nil {
		return notificationdomain.InvoiceNotice{}, err
	}
	if client == nil {
		return notificationdomain.InvoiceNotice{}, clientdomain.ErrNotFound
	}

	notice := notificationdomain.InvoiceNotice{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		ClientID:      client.ID,
		ClientName:    client.DisplayName(),
		ClientEmail:   client.Email,
		CompanyName:   s.billing.Get().CompanyName,
		Currency:      inv.Currency,
		Total:         inv.TotalAmount.StringFixed(2),
		Tax:           inv.TaxAmount.StringFixed(2),
		AmountDue:     inv.AmountDue().StringFixed(2),
		DueDate:       inv.DueDate,
	}
	if inv.Status == invoicedomain.StatusSent || inv.Status == invoicedomain.StatusOverdue {
		notice.PayURL = s.payURL(inv.ID)
	}
	return notice, nil
}

func (s *Service) RenderPDF(ctx context.Context, id snowflake.ID) ([]byte, error) {
	data, err := s.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.pdf.GenerateInvoice(ctx, data)
}

func (s *Service) Document(ctx context.Context, id snowflake.ID) (pdf.InvoiceData, error) {
	invoice, err := s.load(ctx, s.db, id)
	if err != nil {
		return pdf.InvoiceData{}, err
	}
	client, err := s.clientRepo.FindByID(ctx, s.db, invoice.ClientID)
	if err != nil {
		return pdf.InvoiceData{}, err
	}
	if client == nil {
		return pdf.InvoiceData{}, clientdomain.ErrNotFound
	}

	cfg := s.billing.Get()
	data := pdf.InvoiceData{
		CompanyName:    cfg.CompanyName,
		CompanyAddress: cfg.CompanyAddress,
		CompanyEmail:   cfg.CompanyEmail,
		InvoiceNumber:  invoice.InvoiceNumber,
		Status:         string(invoice.Status),
		IssueDate:      invoiceformat.Date(invoice.IssueDate),
		DueDate:        invoiceformat.Date(invoice.DueDate),
		BillToName:     client.Name,
		BillToCompany:  client.CompanyName,
		BillToAddress:  client.Address,
		BillToEmail:    client.Email,
		Subtotal:       invoiceformat.Money(invoice.TotalAmount, invoice.Currency),
		TaxLabel:       fmt.Sprintf("Tax (%s%%)", invoice.TaxRate.String()),
		Tax:            invoiceformat.Money(invoice.TaxAmount, invoice.Currency),
		AmountDue:      invoiceformat.Money(invoice.AmountDue(), invoice.Currency),
	}
	if invoice.Notes != nil {
		data.Notes = *invoice.Notes
	}
	for _, item := range invoice.Items {
		data.Items = append(data.Items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         item.Quantity,
			UnitPrice:   invoiceformat.Money(item.UnitPrice, ""),
			Amount:      invoiceformat.Money(item.LineTotal, ""),
		})
	}
	return data, nil
}

func (s *Service) payURL(id snowflake.ID) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/invoices/%s/pay", s.baseURL, id.String())
}
