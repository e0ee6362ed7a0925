// Package verify scores candidates by checking each contact field.
package verify

import (
	"context"
	"fmt"

	"github.com/JakeFAU/leadstream/internal/lead"
)

// LivenessChecker reports whether a website answers.
type LivenessChecker interface {
	Live(ctx context.Context, rawURL string) bool
}

// Verifier applies the field checks and derives the confidence score. It keeps
// no per-record state and is safe for concurrent use.
type Verifier struct {
	checker LivenessChecker
}

// New returns a Verifier. A nil checker treats every website as unverified.
func New(checker LivenessChecker) *Verifier {
	return &Verifier{checker: checker}
}

// Verify annotates c. The only error is cancellation of ctx, since a canceled
// liveness check would otherwise be indistinguishable from a dead website.
func (v *Verifier) Verify(ctx context.Context, c lead.Candidate) (lead.Annotated, error) {
	if err := ctx.Err(); err != nil {
		return lead.Annotated{}, fmt.Errorf("verify %q: %w", c.Name, err)
	}
	flags := lead.Flags{
		Name:  ValidName(c.Name),
		Firm:  ValidFirm(c.Firm),
		Email: ValidEmail(c.Email),
	}
	if v.checker != nil && c.Website != "" {
		flags.Website = v.checker.Live(ctx, c.Website)
	}
	if err := ctx.Err(); err != nil {
		return lead.Annotated{}, fmt.Errorf("verify %q: %w", c.Name, err)
	}
	return lead.Annotate(c, flags), nil
}
