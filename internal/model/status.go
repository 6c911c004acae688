// internal/model/status.go
package model

import "fmt"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignReady     CampaignStatus = "ready"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// campaignEdges lists every legal campaign transition. ready->draft is the
// operator reset of an unsent plan; failed->ready is the manual retry.
var campaignEdges = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignReady},
	CampaignReady:     {CampaignDraft, CampaignSending},
	CampaignSending:   {CampaignCompleted, CampaignFailed},
	CampaignFailed:    {CampaignReady},
	CampaignCompleted: nil,
}

func (s CampaignStatus) Valid() bool {
	_, ok := campaignEdges[s]
	return ok
}

func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, to := range campaignEdges[s] {
		if to == next {
			return true
		}
	}
	return false
}

// CampaignSources returns the statuses from which next is reachable.
func CampaignSources(next CampaignStatus) []CampaignStatus {
	var out []CampaignStatus
	for _, from := range []CampaignStatus{CampaignDraft, CampaignReady, CampaignSending, CampaignCompleted, CampaignFailed} {
		if from.CanTransitionTo(next) {
			out = append(out, from)
		}
	}
	return out
}

func ParseCampaignStatus(s string) (CampaignStatus, error) {
	st := CampaignStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown campaign status %q", s)
	}
	return st, nil
}

type BatchStatus string

const (
	BatchReady     BatchStatus = "ready"
	BatchSending   BatchStatus = "sending"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// batchEdges lists every legal batch transition. sending->ready is only
// taken by a forced reset after an interrupted invocation.
var batchEdges = map[BatchStatus][]BatchStatus{
	BatchReady:     {BatchSending},
	BatchSending:   {BatchCompleted, BatchFailed, BatchReady},
	BatchFailed:    {BatchReady},
	BatchCompleted: nil,
}

func (s BatchStatus) Valid() bool {
	_, ok := batchEdges[s]
	return ok
}

func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, to := range batchEdges[s] {
		if to == next {
			return true
		}
	}
	return false
}

func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

func ParseBatchStatus(s string) (BatchStatus, error) {
	st := BatchStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown batch status %q", s)
	}
	return st, nil
}

// StatusStrings converts typed statuses for use with pq.Array.
func StatusStrings[S ~string](in []S) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

// BatchTally counts a campaign's batches by status.
type BatchTally struct {
	Total     int
	Ready     int
	Sending   int
	Completed int
	Failed    int
}

func (t *BatchTally) Add(s BatchStatus) {
	t.Total++
	switch s {
	case BatchReady:
		t.Ready++
	case BatchSending:
		t.Sending++
	case BatchCompleted:
		t.Completed++
	case BatchFailed:
		t.Failed++
	}
}

// Reconcile derives the campaign status implied by its batches. A sending
// campaign fails as soon as one batch fails and completes once every batch
// has completed; a failed campaign returns to ready when no failed batch
// remains.
func (t BatchTally) Reconcile(current CampaignStatus) CampaignStatus {
	switch current {
	case CampaignSending:
		if t.Failed > 0 {
			return CampaignFailed
		}
		if t.Total > 0 && t.Completed == t.Total {
			return CampaignCompleted
		}
	case CampaignFailed:
		if t.Failed == 0 {
			return CampaignReady
		}
	}
	return current
}
