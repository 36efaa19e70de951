package controllers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/models"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"

	"github.com/gin-gonic/gin"
	"github.com/jung-kurt/gofpdf"
	"github.com/tealeg/xlsx"
)

var reportHeaders = []string{"Refund ID", "Payment ID", "Booking ID", "Date", "Amount", "Currency", "Status", "Gateway Ref", "Requested By", "Reason"}

type refundReport struct {
	period  string
	start   time.Time
	end     time.Time
	refunds []models.RefundRequest

	completed int
	failed    int
	totals    map[string]int64
}

// currencies returns the currencies seen in completed refunds, sorted
func (r *refundReport) currencies() []string {
	out := make([]string, 0, len(r.totals))
	for cur := range r.totals {
		out = append(out, cur)
	}
	sort.Strings(out)
	return out
}

func (r *refundReport) summary() [][]string {
	rows := [][]string{
		{"Total Requests", fmt.Sprintf("%d", len(r.refunds))},
		{"Completed", fmt.Sprintf("%d", r.completed)},
		{"Failed", fmt.Sprintf("%d", r.failed)},
	}
	for _, cur := range r.currencies() {
		rows = append(rows, []string{"Refunded " + cur, utils.FormatMinor(r.totals[cur], cur)})
	}
	return rows
}

func reportPeriod(period string, now time.Time) (time.Time, time.Time, bool) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case "day":
		return dayStart, dayStart.AddDate(0, 0, 1), true
	case "week":
		return dayStart.AddDate(0, 0, -6), dayStart.AddDate(0, 0, 1), true
	case "month":
		return dayStart.AddDate(0, 0, -30), dayStart.AddDate(0, 0, 1), true
	}
	return time.Time{}, time.Time{}, false
}

// loadReport reads the refunds for ?period= and writes the error response
// itself when it fails
func (ac *AdminRefundController) loadReport(c *gin.Context) (*refundReport, bool) {
	period := c.DefaultQuery("period", "day")
	start, end, ok := reportPeriod(period, time.Now())
	if !ok {
		utils.LogError("Invalid period specified: %s", period)
		utils.BadRequest(c, "Invalid period", "Period must be day, week, or month")
		return nil, false
	}

	refunds, _, err := ac.payments.ListRefunds(c.Request.Context(), payments.RefundFilter{
		Status: c.Query("status"),
		From:   &start,
		To:     &end,
	})
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	utils.LogDebug("Retrieved %d refunds for %s report", len(refunds), period)

	report := &refundReport{period: period, start: start, end: end, refunds: refunds, totals: map[string]int64{}}
	for _, r := range refunds {
		switch r.Status {
		case models.RefundRequestCompleted:
			report.completed++
			report.totals[r.Currency] += r.Amount
		case models.RefundRequestFailed:
			report.failed++
		}
	}
	return report, true
}

func (r *refundReport) periodLine() string {
	return "Period: " + strings.ToUpper(r.period) + " | " + r.start.Format("2006-01-02") + " to " + r.end.AddDate(0, 0, -1).Format("2006-01-02")
}

// DownloadRefundReportExcel handles GET /admin/refunds/export/excel
func (ac *AdminRefundController) DownloadRefundReportExcel(c *gin.Context) {
	utils.LogInfo("DownloadRefundReportExcel called")

	report, ok := ac.loadReport(c)
	if !ok {
		return
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Refund Report")
	if err != nil {
		utils.LogError("Failed to create Excel sheet: %v", err)
		utils.InternalServerError(c, "Failed to create Excel sheet", err.Error())
		return
	}

	bold := xlsx.NewStyle()
	font := xlsx.DefaultFont()
	font.Bold = true
	bold.Font = *font

	title := sheet.AddRow().AddCell()
	title.SetString("DR7 EXOTIC - Refund Report")
	title.SetStyle(bold)
	sheet.AddRow().AddCell().SetString(report.periodLine())
	sheet.AddRow()

	headerRow := sheet.AddRow()
	for _, h := range reportHeaders {
		cell := headerRow.AddCell()
		cell.SetString(h)
		cell.SetStyle(bold)
	}

	for _, r := range report.refunds {
		row := sheet.AddRow()
		row.AddCell().SetInt(int(r.ID))
		row.AddCell().SetInt(int(r.PaymentID))
		row.AddCell().SetInt(int(r.BookingID))
		row.AddCell().SetString(r.CreatedAt.Format("2006-01-02 15:04"))
		row.AddCell().SetFloat(float64(r.Amount) / 100)
		row.AddCell().SetString(r.Currency)
		row.AddCell().SetString(r.Status)
		row.AddCell().SetString(r.GatewayRefundID)
		row.AddCell().SetInt(int(r.RequestedBy))
		row.AddCell().SetString(r.Reason)
	}

	sheet.AddRow()
	summaryCell := sheet.AddRow().AddCell()
	summaryCell.SetString("Summary")
	summaryCell.SetStyle(bold)
	for _, data := range report.summary() {
		row := sheet.AddRow()
		row.AddCell().SetString(data[0])
		row.AddCell().SetString(data[1])
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=refund_report_%s.xlsx", report.period))
	if err := file.Write(c.Writer); err != nil {
		utils.LogError("Failed to write Excel file: %v", err)
		return
	}
	utils.LogInfo("Generated Excel refund report for period %s", report.period)
}

// DownloadRefundReportPDF handles GET /admin/refunds/export/pdf
func (ac *AdminRefundController) DownloadRefundReportPDF(c *gin.Context) {
	utils.LogInfo("DownloadRefundReportPDF called")

	report, ok := ac.loadReport(c)
	if !ok {
		return
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 20)
	pdf.Cell(0, 12, "DR7 EXOTIC - Refund Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 12)
	pdf.Cell(0, 8, report.periodLine())
	pdf.Ln(12)

	colWidths := []float64{20, 22, 22, 32, 25, 20, 25, 35, 25, 51}
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(200, 200, 200)
	for i, h := range reportHeaders {
		pdf.CellFormat(colWidths[i], 9, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	fill := false
	for _, r := range report.refunds {
		pdf.SetFillColor(230, 240, 255)
		cells := []struct {
			text  string
			align string
		}{
			{fmt.Sprintf("%d", r.ID), "C"},
			{fmt.Sprintf("%d", r.PaymentID), "C"},
			{fmt.Sprintf("%d", r.BookingID), "C"},
			{r.CreatedAt.Format("2006-01-02 15:04"), "C"},
			{fmt.Sprintf("%d.%02d", r.Amount/100, r.Amount%100), "R"},
			{r.Currency, "C"},
			{r.Status, "C"},
			{r.GatewayRefundID, "L"},
			{fmt.Sprintf("%d", r.RequestedBy), "C"},
			{truncate(r.Reason, 30), "L"},
		}
		for i, cell := range cells {
			pdf.CellFormat(colWidths[i], 8, cell.text, "1", 0, cell.align, fill, 0, "")
		}
		pdf.Ln(-1)
		fill = !fill
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "B", 13)
	pdf.SetFillColor(220, 230, 250)
	pdf.CellFormat(90, 10, "Summary", "1", 0, "C", true, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 11)
	for _, data := range report.summary() {
		pdf.CellFormat(50, 8, data[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 8, data[1], "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=refund_report_%s.pdf", report.period))
	if err := pdf.Output(c.Writer); err != nil {
		utils.LogError("Failed to write PDF file: %v", err)
		return
	}
	utils.LogInfo("Generated PDF refund report for period %s", report.period)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
