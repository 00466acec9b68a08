package domain

// AnalysisCredential is the analysis service session token. It lives in
// memory only and never prints its value.
type AnalysisCredential struct {
	token string
}

// NewAnalysisCredential wraps a raw token.
func NewAnalysisCredential(token string) AnalysisCredential {
	return AnalysisCredential{token: token}
}

// Token returns the raw value for the Authorization header.
func (c AnalysisCredential) Token() string { return c.token }

// Valid reports whether a token is held.
func (c AnalysisCredential) Valid() bool { return c.token != "" }

func (c AnalysisCredential) String() string {
	if c.token == "" {
		return "<none>"
	}
	return "<redacted>"
}

// GoString keeps %#v from leaking the token.
func (c AnalysisCredential) GoString() string { return c.String() }

// UploadRequest carries the recording and its metadata to the service.
type UploadRequest struct {
	File     RecordingFile
	Metadata SessionMetadata
}

// ScoreQuery identifies an in-flight analysis job.
type ScoreQuery struct {
	SubjectID string
	JobID     string
}

// ReadyCode is the score endpoint code meaning the result is final.
const ReadyCode = 0

// ScoreResult is one answer from the score endpoint.
type ScoreResult struct {
	Code  int
	Ready bool
	Score *float64
	Raw   map[string]any
}
