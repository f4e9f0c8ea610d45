package identitybound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is requested from ambient credentials.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var errNoProject = errors.New("project_id is not configured and ambient credentials carry none")

// ambientAuth resolves application default credentials on first use.
// A configured token source or project skips the corresponding discovery.
type ambientAuth struct {
	once    sync.Once
	ts      oauth2.TokenSource
	project string
	err     error
}

func (a *ambientAuth) resolve(ctx context.Context) (oauth2.TokenSource, string, error) {
	a.once.Do(func() {
		if a.ts != nil && a.project != "" {
			return
		}
		// Token refresh outlives the first request.
		creds, err := google.FindDefaultCredentials(context.WithoutCancel(ctx), CloudPlatformScope)
		if err != nil {
			if a.ts == nil {
				a.err = fmt.Errorf("ambient credentials: %w", err)
			}
			return
		}
		if a.ts == nil {
			a.ts = creds.TokenSource
		}
		if a.project == "" {
			a.project = creds.ProjectID
		}
	})
	if a.err != nil {
		return nil, "", a.err
	}
	if a.project == "" {
		return nil, "", errNoProject
	}
	return a.ts, a.project, nil
}

func (a *ambientAuth) authorize(ctx context.Context, req *http.Request) error {
	ts, _, err := a.resolve(ctx)
	if err != nil {
		return err
	}
	tok, err := ts.Token()
	if err != nil {
		return fmt.Errorf("ambient token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}
