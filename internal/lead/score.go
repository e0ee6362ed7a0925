package lead

// Field weights in hundredths. They must sum to weightTotal so scores stay in [0, 1].
const (
	weightName    = 20
	weightFirm    = 20
	weightEmail   = 30
	weightWebsite = 30
	weightTotal   = 100
)

// Flags is the per-field validity vector produced by a Verifier.
type Flags struct {
	Name    bool
	Firm    bool
	Email   bool
	Website bool
}

// Score is the fixed weighted sum of flags. Points are summed as integers before the
// single division so identical vectors always produce bit-identical scores.
func Score(f Flags) float64 {
	points := 0
	if f.Name {
		points += weightName
	}
	if f.Firm {
		points += weightFirm
	}
	if f.Email {
		points += weightEmail
	}
	if f.Website {
		points += weightWebsite
	}
	return float64(points) / weightTotal
}

// Annotate builds a new Annotated value from c and flags; c is copied, never modified.
func Annotate(c Candidate, flags Flags) Annotated {
	return Annotated{
		Candidate:       c,
		NameVerified:    flags.Name,
		FirmVerified:    flags.Firm,
		EmailVerified:   flags.Email,
		WebsiteVerified: flags.Website,
		ConfidenceScore: Score(flags),
	}
}
