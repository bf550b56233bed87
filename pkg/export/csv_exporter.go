package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// CSVExporter renders registration slips into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the slip. The first rows carry
// the registration header, followed by one row per course.
func (e *CSVExporter) Render(slip Slip) ([]byte, error) {
	if len(slip.Courses) == 0 {
		return nil, fmt.Errorf("slip requires at least one course")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	header := [][]string{
		{"Student", slip.StudentName},
		{"Registration No", slip.RegistrationNo},
		{"Programme", slip.Programme},
		{"Semester", strconv.Itoa(slip.Semester)},
		{"Academic Year", slip.AcademicYear},
		{"Registration Status", slip.Status},
		{},
		{"Course Code", "Course Title", "Faculty", "Status"},
	}
	for _, record := range header {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, course := range slip.Courses {
		record := []string{course.Code, course.Title, course.Faculty, course.Status}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
