package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ticketing/internal/http/middleware"
	"ticketing/internal/services"
)

// GetTicketETicketPDF returns the boarding e-ticket (inline).
func GetTicketETicketPDF(c *gin.Context) {
	svc := services.DocsService{Tickets: ticketService(c), RequestID: middleware.GetRequestID(c)}
	pdfBytes, filename, err := svc.GenerateETicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	writePDF(c, filename, pdfBytes)
}

// GetTicketReceiptPDF returns the payment receipt (inline).
func GetTicketReceiptPDF(c *gin.Context) {
	svc := services.DocsService{Tickets: ticketService(c), RequestID: middleware.GetRequestID(c)}
	pdfBytes, filename, err := svc.GenerateReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	writePDF(c, filename, pdfBytes)
}

func writePDF(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", data)
}
