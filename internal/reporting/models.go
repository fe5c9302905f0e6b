package reporting

// SessionSummary aggregates one clinic session: queue outcomes per terminal
// status, in-flight counts, recall totals, and completed-call metrics.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	DoctorID  string `json:"doctor_id"`
	Date      string `json:"date"`
	Status    string `json:"status"`

	TotalEntries   int `json:"total_entries"`
	Waiting        int `json:"waiting"`
	Called         int `json:"called"`
	InConsultation int `json:"in_consultation"`
	Skipped        int `json:"skipped"`
	Completed      int `json:"completed"`
	NoShow         int `json:"no_show"`
	Cancelled      int `json:"cancelled"`

	TotalRecalls int `json:"total_recalls"`

	CompletedCalls         int `json:"completed_calls"`
	TotalCallSeconds       int `json:"total_call_seconds"`
	AverageCallSeconds     int `json:"average_call_seconds"`
	DeclinedOrTimedOutCalls int `json:"declined_or_timed_out_calls"`
}
