package capisync

// AccountSyncResult is one account's slice of a sync pass. Callers inspect
// failure_count/errors, not the HTTP status, to detect partial failure.
type AccountSyncResult struct {
	AccountId       uint     `json:"account_id"`
	BrandId         string   `json:"brand_id"`
	CustomerId      string   `json:"customer_id"`
	EventsProcessed int      `json:"events_processed"`
	SuccessCount    int      `json:"success_count"`
	FailureCount    int      `json:"failure_count"`
	Errors          []string `json:"errors,omitempty"`
}

type SyncSummary struct {
	TotalProcessed int `json:"total_processed"`
	TotalSuccess   int `json:"total_success"`
	TotalFailure   int `json:"total_failure"`
}

type SyncRunResponse struct {
	Message string              `json:"message"`
	Summary SyncSummary         `json:"summary"`
	Results []AccountSyncResult `json:"results"`
}

type AccountStatus struct {
	BrandId        string  `json:"brand_id"`
	BrandName      string  `json:"brand_name"`
	IsActive       bool    `json:"is_active"`
	LastSyncAt     *string `json:"last_sync_at"`
	LastSyncStatus *string `json:"last_sync_status"`
	LastSyncCount  int     `json:"last_sync_count"`
	PendingEvents  int64   `json:"pending_events"`
}

type StatusResponse struct {
	Accounts []AccountStatus `json:"accounts"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	AccountId *uint `json:"account_id"`
}
