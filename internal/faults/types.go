package faults

// Type is one entry of the closed error taxonomy.
type Type string

const (
	TypeValidation      Type = "validation"
	TypeAuthentication  Type = "authentication"
	TypeAuthorization   Type = "authorization"
	TypeDatastore       Type = "datastore"
	TypeNetwork         Type = "network"
	TypeFilesystem      Type = "filesystem"
	TypeCloudStorage    Type = "cloud-storage"
	TypeEmail           Type = "email"
	TypePayment         Type = "payment"
	TypeAPI             Type = "api"
	TypeInternal        Type = "internal"
	TypeCreditSystem    Type = "credit-system"
	TypeMediaProcessing Type = "media-processing"
)

var allTypes = []Type{
	TypeValidation,
	TypeAuthentication,
	TypeAuthorization,
	TypeDatastore,
	TypeNetwork,
	TypeFilesystem,
	TypeCloudStorage,
	TypeEmail,
	TypePayment,
	TypeAPI,
	TypeInternal,
	TypeCreditSystem,
	TypeMediaProcessing,
}

// AllTypes returns every taxonomy type.
func AllTypes() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Valid reports whether t belongs to the taxonomy.
func (t Type) Valid() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity ranks how urgently an error needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var allSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// AllSeverities returns every severity in ascending order.
func AllSeverities() []Severity {
	out := make([]Severity, len(allSeverities))
	copy(out, allSeverities)
	return out
}

// Rank orders severities ascending. Unknown values rank below low.
func (s Severity) Rank() int {
	for i, known := range allSeverities {
		if s == known {
			return i + 1
		}
	}
	return 0
}

var defaultUserMessages = map[Type]string{
	TypeValidation:      "The request contains invalid data. Please check your input and try again.",
	TypeAuthentication:  "Please sign in to continue.",
	TypeAuthorization:   "You don't have permission to perform this action.",
	TypeDatastore:       "We're having trouble accessing your data. Please try again shortly.",
	TypeNetwork:         "A network problem occurred. Please try again.",
	TypeFilesystem:      "We couldn't read or write a file. Please try again.",
	TypeCloudStorage:    "File storage is temporarily unavailable. Please try again shortly.",
	TypeEmail:           "We couldn't send the email. Please try again later.",
	TypePayment:         "Your payment could not be processed. Please check your payment details.",
	TypeAPI:             "An external service is unavailable. Please try again later.",
	TypeInternal:        "Something went wrong on our end. Please try again.",
	TypeCreditSystem:    "You don't have enough credits to complete this operation. Please purchase more credits to continue.",
	TypeMediaProcessing: "We couldn't process your video. Please check the file and try again.",
}

// DefaultUserMessage returns the static user-facing message for t.
func DefaultUserMessage(t Type) string {
	if msg, ok := defaultUserMessages[t]; ok {
		return msg
	}
	return defaultUserMessages[TypeInternal]
}

var defaultStatus = map[Type]int{
	TypeValidation:      400,
	TypeAuthentication:  401,
	TypeAuthorization:   403,
	TypeDatastore:       500,
	TypeNetwork:         503,
	TypeFilesystem:      500,
	TypeCloudStorage:    502,
	TypeEmail:           502,
	TypePayment:         402,
	TypeAPI:             502,
	TypeInternal:        500,
	TypeCreditSystem:    402,
	TypeMediaProcessing: 422,
}
