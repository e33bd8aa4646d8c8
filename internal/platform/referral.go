package platform

// PostCorrelation is the campaign/post correlation derived from a referral
// block.
type PostCorrelation struct {
	PostID string
	Source string

	// Underivable marks a referral that carried no usable post id. The item
	// is still passed through so routing can create conversation context.
	Underivable bool
}

// ExtractPostCorrelation derives the correlation id from a referral block.
// Precedence, first match wins: nested ads-context post id, direct post id,
// post reference, ad reference, then the ad id as a last-resort key.
func ExtractPostCorrelation(r *Referral) PostCorrelation {
	if r == nil {
		return PostCorrelation{}
	}
	if r.AdsContext != nil && r.AdsContext.PostID != "" {
		return PostCorrelation{PostID: r.AdsContext.PostID, Source: r.Source}
	}
	if r.PostID != "" {
		return PostCorrelation{PostID: r.PostID, Source: r.Source}
	}
	if r.PostRef != "" {
		return PostCorrelation{PostID: r.PostRef, Source: r.Source}
	}
	if r.AdRef != "" {
		return PostCorrelation{PostID: r.AdRef, Source: r.Source}
	}
	if r.AdID != "" {
		return PostCorrelation{PostID: r.AdID, Source: r.Source}
	}
	return PostCorrelation{Source: r.Source, Underivable: true}
}
