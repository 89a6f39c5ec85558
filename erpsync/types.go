package erpsync

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
)

// SyncParams are the input parameters of one run, persisted on the ledger
// row so a retry re-executes with the same cursor.
type SyncParams struct {
	Since     string `json:"since,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
	Forced    bool   `json:"forced,omitempty"`
}

func (p SyncParams) SinceTime() (time.Time, bool) {
	if p.Since == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, p.Since)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func EncodeParams(p SyncParams) []byte {
	b, _ := json.Marshal(p)
	return b
}

func DecodeParams(raw []byte) SyncParams {
	if len(raw) == 0 {
		return SyncParams{}
	}
	var p SyncParams
	if err := utils.UnmarshalFromJSON(raw, &p); err != nil {
		return SyncParams{}
	}
	return p
}

// RecordError is one failed record inside an otherwise progressing run.
// ExternalID is empty for run-scoped entries (fetch abort, page cap).
type RecordError struct {
	ExternalID string `json:"externalId"`
	Message    string `json:"message"`
}

func EncodeErrors(list []RecordError) []byte {
	if len(list) == 0 {
		return nil
	}
	b, _ := json.Marshal(list)
	return b
}

func DecodeErrors(raw []byte) []RecordError {
	if len(raw) == 0 {
		return nil
	}
	var list []RecordError
	if err := utils.UnmarshalFromJSON(raw, &list); err != nil {
		return nil
	}
	return list
}

// SyncResult aggregates one orchestrator pass.
type SyncResult struct {
	SuccessCount int
	ErrorCount   int
	Errors       []RecordError
	Metadata     map[string]interface{}
}

func (r *SyncResult) addError(externalID string, message string) {
	r.Errors = append(r.Errors, RecordError{ExternalID: externalID, Message: message})
	r.ErrorCount++
}

func encodeMetadata(m map[string]interface{}) []byte {
	if len(m) == 0 {
		return nil
	}
	b, _ := json.Marshal(m)
	return b
}

// SyncRunPayload travels through Pub/Sub from trigger to worker.
type SyncRunPayload struct {
	RunID uint   `json:"run_id"`
	Type  string `json:"type"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type TriggerSyncRequest struct {
	Since string `json:"since"`
	Force bool   `json:"force"`
}

type SyncRunResponse struct {
	ID               uint          `json:"id"`
	Type             string        `json:"type"`
	Status           string        `json:"status"`
	TriggeredBy      string        `json:"triggeredBy"`
	StartedAt        *string       `json:"startedAt"`
	CompletedAt      *string       `json:"completedAt"`
	RecordsProcessed int           `json:"recordsProcessed"`
	RecordsFailed    int           `json:"recordsFailed"`
	DurationMs       int64         `json:"durationMs"`
	Errors           []RecordError `json:"errors,omitempty"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type CleanupRequest struct {
	Days int `json:"days" binding:"required,min=30"`
}
