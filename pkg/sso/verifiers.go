package sso

import (
	"context"
	"errors"

	"github.com/platinummonkey/campus/pkg/auth"
)

// Verifiers accepts a credential issued by any of the configured sign-in
// methods. The first verifier that accepts it wins.
type Verifiers []auth.Verifier

// Verify implements auth.Verifier
func (v Verifiers) Verify(ctx context.Context, credential string) (*auth.Session, error) {
	if len(v) == 0 {
		return nil, errors.New("no sign-in method configured")
	}
	var errs []error
	for _, verifier := range v {
		session, err := verifier.Verify(ctx, credential)
		if err == nil {
			return session, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
