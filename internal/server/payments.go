package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/invoicer/internal/payment/domain"
)

type recordPaymentRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
}

func completionBody(completion paymentdomain.Completion) gin.H {
	body := gin.H{"data": completion}
	if len(completion.Warnings) > 0 {
		body["warnings"] = completion.Warnings
	}
	return body
}

func (s *Server) ListInvoicePayments(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if _, err := s.invoiceSvc.GetByID(ctx, id); err != nil {
		AbortWithError(c, err)
		return
	}
	payments, err := s.paymentSvc.ListByInvoice(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}

// RecordPayment books a payment settled outside the hosted checkout, such
// as a bank transfer. Replaying a transaction id returns the first result.
func (s *Server) RecordPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	completion, err := s.paymentSvc.CompletePayment(c.Request.Context(), paymentdomain.CompletePaymentRequest{
		InvoiceID:     id,
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Method:        req.Method,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if completion.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, completionBody(completion))
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.paymentSvc.StartCheckout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

func (s *Server) RenderReceipt(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body, err := s.paymentSvc.RenderReceipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="receipt-%s.pdf"`, id.String()))
	c.Data(http.StatusOK, "application/pdf", body)
}

// PayInvoice is the link placed in invoice emails. It opens a fresh
// provider session and redirects the client there.
func (s *Server) PayInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	withCheckoutActor(c)
	session, err := s.paymentSvc.StartCheckout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Redirect(http.StatusSeeOther, session.URL)
}

// ConfirmCheckout handles the provider's return redirect. Stripe appends
// session_id; Razorpay payment links append razorpay_payment_link_id.
func (s *Server) ConfirmCheckout(c *gin.Context) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(c.Query("invoice_id")))
	if err != nil || invoiceID == 0 {
		AbortWithError(c, newValidationError("invoice_id", "invalid_invoice_id", "invalid invoice_id"))
		return
	}
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(c.Query("razorpay_payment_link_id"))
	}
	if sessionID == "" {
		AbortWithError(c, newValidationError("session_id", "invalid_session_id", "invalid session_id"))
		return
	}

	withCheckoutActor(c)
	completion, err := s.paymentSvc.ConfirmCheckout(c.Request.Context(), invoiceID, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, completionBody(completion))
}
