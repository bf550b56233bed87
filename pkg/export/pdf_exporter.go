package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders registration slips into a basic tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates the slip PDF: a registration header block followed by
// the course table.
func (e *PDFExporter) Render(slip Slip) ([]byte, error) {
	if len(slip.Courses) == 0 {
		return nil, fmt.Errorf("slip requires at least one course")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, "SEMESTER REGISTRATION SLIP", "", 1, "C", false, 0, "")
	pdf.Ln(3)

	pdf.SetFont("Arial", "", 10)
	meta := [][2]string{
		{"Student", slip.StudentName},
		{"Registration No", slip.RegistrationNo},
		{"Programme", slip.Programme},
		{"Semester", fmt.Sprintf("%d", slip.Semester)},
		{"Academic Year", slip.AcademicYear},
		{"Registration Status", slip.Status},
	}
	for _, pair := range meta {
		pdf.CellFormat(45, 6, pair[0], "", 0, "", false, 0, "")
		pdf.CellFormat(0, 6, pair[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	headers := []string{"Code", "Title", "Faculty", "Status"}
	widths := []float64{25, 85, 50, 30}
	pdf.SetFont("Arial", "B", 10)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, course := range slip.Courses {
		cells := []string{course.Code, course.Title, course.Faculty, course.Status}
		for i, value := range cells {
			pdf.CellFormat(widths[i], 7, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
