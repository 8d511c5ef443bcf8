package baidu

// Upstream status codes carried in the response body. HTTP status is almost
// always 200; these decide what happens to the account that made the call.
const (
	StatusOK             = 0
	StatusNotLogin       = 10000
	StatusRequestBlocked = 10001
	StatusBadRequest     = 10002
)

// Outcome classifies a request for the caller's ban handling.
type Outcome int

const (
	// OutcomeOK is a successful request.
	OutcomeOK Outcome = iota
	// OutcomeCredentialInvalid means the upstream rejected the session
	// outright; the account's credentials are dead.
	OutcomeCredentialInvalid
	// OutcomeCredentialBlocked means the upstream rate-limited the account;
	// it needs a cooldown, not retirement.
	OutcomeCredentialBlocked
	// OutcomeBadRequest is a rejected query; the account itself is fine.
	OutcomeBadRequest
	// OutcomeTransport is a network-level failure with no verdict on the
	// account.
	OutcomeTransport
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCredentialInvalid:
		return "credential_invalid"
	case OutcomeCredentialBlocked:
		return "credential_blocked"
	case OutcomeBadRequest:
		return "bad_request"
	case OutcomeTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// classifyStatus maps an upstream body status to an outcome. The not-login
// case is signaled both by code and by message depending on the endpoint.
func classifyStatus(status int, message string) Outcome {
	switch {
	case status == StatusOK:
		return OutcomeOK
	case status == StatusNotLogin || message == "not login":
		return OutcomeCredentialInvalid
	case status == StatusRequestBlocked:
		return OutcomeCredentialBlocked
	default:
		return OutcomeBadRequest
	}
}

// SearchIndexResult carries the still-encrypted series for one keyword/area
// query plus the uniqid that selects the decryption key.
type SearchIndexResult struct {
	Keyword string
	Area    int
	UniqID  string
	All     string
	Wise    string
	PC      string
}

// TrendIndexResult carries the encrypted feed-trend series.
type TrendIndexResult struct {
	Keyword string
	Area    int
	UniqID  string
	Data    string
}

type seriesPayload struct {
	Data string `json:"data"`
}

type searchResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    struct {
		UniqID      string `json:"uniqid"`
		UserIndexes []struct {
			All  seriesPayload `json:"all"`
			Wise seriesPayload `json:"wise"`
			PC   seriesPayload `json:"pc"`
		} `json:"userIndexes"`
	} `json:"data"`
}

type trendResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    struct {
		UniqID string `json:"uniqid"`
		Index  []struct {
			Data string `json:"data"`
		} `json:"index"`
	} `json:"data"`
}

type keyResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    string `json:"data"`
}
