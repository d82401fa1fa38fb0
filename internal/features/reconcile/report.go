package reconcile

// Report counts what one reconciliation run did.
type Report struct {
	Trigger       string `json:"trigger"`
	BroadcasterID string `json:"broadcaster_id,omitempty"`
	Processed     int    `json:"processed"`
	Transferred   int    `json:"transferred"`
	Failed        int    `json:"failed"`
	Retry         int    `json:"retry"`
	Skipped       int    `json:"skipped"`
	Rebound       int    `json:"rebound"`
}

func (r *Report) add(o Outcome) {
	r.Processed++
	switch o {
	case OutcomeTransferred:
		r.Transferred++
	case OutcomeFailed:
		r.Failed++
	case OutcomeRetry:
		r.Retry++
	default:
		r.Skipped++
	}
}
