package export

// Slip describes the printable registration slip for one student and
// semester. Exporters render the same structure into their format.
type Slip struct {
	StudentName    string
	RegistrationNo string
	Programme      string
	Semester       int
	AcademicYear   string
	Status         string
	Courses        []SlipCourse
}

// SlipCourse is one row of the slip's course table.
type SlipCourse struct {
	Code    string
	Title   string
	Faculty string
	Status  string
}
