package errortypes

// AdSelectionFailure prefixes every failed auction message.
const AdSelectionFailure = "Encountered failure during Ad Selection"

const (
	NoBuyersOrContextualAds         = "No buyers or contextual ads available"
	NoCustomAudienceOrContextualAds = "No Custom Audience or contextual ads available"
	NoValidBidsOrContextualAds      = "No valid bids or contextual ads available for scoring"
	NoWinningAdFound                = "No winning Ads found"
	AdSelectionTimedOut             = "Ad selection exceeded allowed time limit"
	ScoringTimedOut                 = "Scoring exceeded allowed time limit"
	MissingScoringLogic             = "Error fetching scoring decision logic"
	MissingTrustedScoringSignals    = "Error fetching trusted scoring signals"
	ScoringFailed                   = "Error encountered while running scoring logic"
	PersistenceFailed               = "Error persisting ad selection result"
	IDGenerationExhausted           = "Unable to generate a unique ad selection id"
	InventoryUnavailable            = "Error fetching custom audiences"
	InvalidAdSelectionID            = "Invalid ad selection id"
	CallerMismatch                  = "Caller package does not match the package that ran the auction"
	OutcomeSelectionFailed          = "Error encountered while selecting from prior outcomes"
	ReportingFailed                 = "Error encountered while running reporting logic"
	RemoteAuctionFailed             = "Error running auction on trusted server"
)

// Failure composes the caller visible message for a failed auction.
func Failure(reason string) string {
	return AdSelectionFailure + ": " + reason
}

// NewInternal builds an Internal error carrying the composed failure message.
func NewInternal(reason string, cause error) *Internal {
	return &Internal{Message: Failure(reason), Cause: cause}
}

// NewTimeout builds a Timeout error carrying the composed failure message.
func NewTimeout(reason string, cause error) *Timeout {
	return &Timeout{Message: Failure(reason), Cause: cause}
}
