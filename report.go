package transactionapp

import (
	"io"

	"github.com/go-pdf/fpdf"
)

// WriteDeclinedReport renders the declined authorization records as a PDF
// table, newest last.
func WriteDeclinedReport(w io.Writer, recs []AuthorizationRecord) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, "Declined Authorizations", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	colWidths := []float64{52, 52, 24, 22, 16, 24}
	headers := []string{"Message ID", "User ID", "Amount", "Currency", "Kind", "Declined At"}

	pdf.SetFont("Helvetica", "B", 9)
	for i, hd := range headers {
		pdf.CellFormat(colWidths[i], 7, hd, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, rec := range recs {
		cells := []string{
			rec.MessageID,
			rec.UserID,
			rec.Balance.Amount,
			rec.Balance.Currency,
			rec.Balance.DebitOrCredit,
			rec.CreatedAt.Format("2006-01-02 15:04"),
		}
		for i, c := range cells {
			pdf.CellFormat(colWidths[i], 6, c, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf.Output(w)
}
