package domain

type AdmissionInput struct {
	Filename  string `json:"filename"`
	Mimetype  string `json:"mimetype"`
	SizeBytes int64  `json:"size_bytes"`
	MaxBytes  int64  `json:"max_bytes"`
}

type AdmissionDecision struct {
	Allow   bool
	Reasons []string
}
