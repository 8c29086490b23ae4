package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/phpdave11/gofpdf"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
	"ticketing/internal/utils"
)

// DocsService renders per-ticket PDFs: the boarding e-ticket and the
// payment receipt.
type DocsService struct {
	Tickets   TicketService
	RequestID string
	Loader    func(ctx context.Context, ticketID string) (models.Ticket, error)
}

func (s DocsService) GenerateETicket(ctx context.Context, ticketID string) ([]byte, string, error) {
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, "", err
	}
	if t.Status != models.StatusPaid && t.Status != models.StatusValidated {
		return nil, "", domain.NewTicketError(domain.KindNotPayable, t.ID, "e-ticket is only issued for paid tickets")
	}
	utils.LogEvent(s.RequestID, "docs", "generate_eticket", "ticket="+t.ID)
	return buildETicketPDF(t)
}

func (s DocsService) GenerateReceipt(ctx context.Context, ticketID string) ([]byte, string, error) {
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, "", err
	}
	paid, err := s.Tickets.PaymentTaken(ctx, t)
	if err != nil {
		return nil, "", err
	}
	if !paid {
		return nil, "", domain.NewTicketError(domain.KindNotPayable, t.ID, "no receipt for an unpaid ticket")
	}
	utils.LogEvent(s.RequestID, "docs", "generate_receipt", "ticket="+t.ID)
	return buildReceiptPDF(t)
}

func (s DocsService) load(ctx context.Context, ticketID string) (models.Ticket, error) {
	if s.Loader != nil {
		return s.Loader(ctx, ticketID)
	}
	return s.Tickets.GetTicket(ctx, ticketID)
}

func buildETicketPDF(t models.Ticket) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("E-Ticket", false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Ticket      : %s", t.ID),
		fmt.Sprintf("Passenger   : %s", safe(t.PassengerID, "-")),
		fmt.Sprintf("Trip        : %s", safe(t.TripID, "-")),
		fmt.Sprintf("Type        : %s", safe(string(t.TicketType), "-")),
		fmt.Sprintf("Fare        : %s", utils.FormatMoney(t.Amount, t.Currency)),
		fmt.Sprintf("Valid from  : %s", utils.FormatDateTime(t.ValidFrom)),
		fmt.Sprintf("Valid until : %s", utils.FormatDateTime(t.ValidUntil)),
		fmt.Sprintf("Status      : %s", t.Status),
	}
	if t.ValidatedAt != nil {
		lines = append(lines, fmt.Sprintf("Validated   : %s on trip %s", utils.FormatDateTime(*t.ValidatedAt), safe(t.ValidatedTripID, "-")))
	}
	for _, s := range lines {
		pdf.Cell(0, 7, s)
		pdf.Ln(7)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 6, "Valid for one ride by one passenger. Present this ticket at boarding.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("ETICKET_%s.pdf", safeFilenamePart(t.ID))
	return buf.Bytes(), filename, nil
}

func buildReceiptPDF(t models.Ticket) ([]byte, string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Receipt", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "RECEIPT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, "Receipt no : RCP-"+safeFilenamePart(t.ID))
	pdf.Ln(7)
	pdf.Cell(0, 7, "Issued     : "+utils.FormatDateTime(t.CreatedAt))
	pdf.Ln(7)
	pdf.Cell(0, 7, "Passenger  : "+safe(t.PassengerID, "-"))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Items:")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, fmt.Sprintf("1) %s ticket, trip %s", t.TicketType, safe(t.TripID, "-")), "", "", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Total: "+utils.FormatMoney(t.Amount, t.Currency))
	pdf.Ln(12)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("RECEIPT_%s.pdf", safeFilenamePart(t.ID))
	return buf.Bytes(), filename, nil
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func safeFilenamePart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "NA"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	s = replacer.Replace(s)
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
