package market

import "encoding/json"

// Profile selects how much enrichment to attempt for a ticker.
type Profile string

const (
	// ProfileLight fetches only the price chart and metric snapshot.
	ProfileLight Profile = "light"
	// ProfileFull attempts every fragment.
	ProfileFull Profile = "full"
)

// Fragment names the optional artifact pieces the pipeline can attach.
const (
	FragmentPriceChart       = "price_chart"
	FragmentMetrics          = "metrics"
	FragmentMacroCards       = "macro_cards"
	FragmentEarningsCalendar = "earnings_calendar"
	FragmentNewsSentiment    = "news_sentiment"
	FragmentOptionsActivity  = "options_activity"
	FragmentFilingChanges    = "filing_changes"
	FragmentTranscriptQA     = "transcript_qa"
	FragmentOwnershipTrend   = "ownership_trend"
)

var lightFragments = []string{FragmentPriceChart, FragmentMetrics}

var fullFragments = []string{
	FragmentPriceChart,
	FragmentMetrics,
	FragmentMacroCards,
	FragmentEarningsCalendar,
	FragmentNewsSentiment,
	FragmentOptionsActivity,
	FragmentFilingChanges,
	FragmentTranscriptQA,
	FragmentOwnershipTrend,
}

// ArtifactBag is a sparse mapping of fragment name to payload. A
// missing key means the fragment was unavailable; that is never an
// error for the caller.
type ArtifactBag map[string]json.RawMessage

// Merge overlays other onto the bag, keeping existing entries on key
// collision.
func (b ArtifactBag) Merge(other ArtifactBag) {
	for k, v := range other {
		if _, ok := b[k]; !ok {
			b[k] = v
		}
	}
}

func fragmentsFor(profile Profile) []string {
	if profile == ProfileFull {
		return fullFragments
	}
	return lightFragments
}
