package internal

// NoNationalID marks a member whose source row carried no usable ID digits.
const NoNationalID = "SIN DNI"

type Account struct {
	ID        int64
	Name      string
	CreatedAt string
}

type Roll struct {
	ID        int64
	Name      string
	CreatedAt string
}

type Member struct {
	ID         int64
	RollID     int64
	Name       string
	NationalID string
	Voted      bool
}

// Record is one cleaned (name, national ID) pair ready for bulk insertion.
type Record struct {
	Name       string `json:"name"`
	NationalID string `json:"nationalId"`
}

type Summary struct {
	Total     int
	Voted     int
	Remaining int
}

type ImportRun struct {
	ID         int64
	TraceID    string
	RollID     int64
	Filename   string
	Records    int
	DurationMs int64
	CreatedAt  string
}
