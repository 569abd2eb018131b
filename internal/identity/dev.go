package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/punchamoorthee/creditgate/internal/domain"
)

const devTokenPrefix = "dev-"

// DevVerifier accepts tokens of the form "dev-<uid>". Local runs and benchmarks only.
type DevVerifier struct{}

func (DevVerifier) Verify(_ context.Context, token string) (string, error) {
	uid, ok := strings.CutPrefix(token, devTokenPrefix)
	if !ok || uid == "" {
		return "", fmt.Errorf("%w: not a dev token", domain.ErrUnauthenticated)
	}
	return uid, nil
}

// DevToken builds the token DevVerifier accepts for uid.
func DevToken(uid string) string { return devTokenPrefix + uid }
