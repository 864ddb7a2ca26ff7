// Package adapters binds each external capability (translation, speech
// recognition, completion, weather, currency) behind a uniform contract:
// one call, one result string or one error. No adapter retries on its own,
// and no adapter failure ever escapes as anything but an error value — the
// dispatcher maps it to a user-visible, prefixed reply.
package adapters

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// FailurePrefix opens every user-visible adapter failure message.
const FailurePrefix = "⚠️"

// FailureText converts an adapter error into the reply the user sees:
// the fixed prefix, a localized label for the capability, and the detail.
// The user is always told about a failure, never left in silence.
func FailureText(label string, err error) string {
	return fmt.Sprintf("%s %s：%v", FailurePrefix, label, err)
}

const googleScope = "https://www.googleapis.com/auth/cloud-platform"

// googleHTTPClient builds an authenticated HTTP client for the Google REST
// APIs. credentialsJSON is the service-account material (file contents or
// inline blob); nil falls back to application default credentials.
func googleHTTPClient(ctx context.Context, credentialsJSON []byte) (*http.Client, error) {
	var (
		creds *google.Credentials
		err   error
	)
	if len(credentialsJSON) > 0 {
		creds, err = google.CredentialsFromJSON(ctx, credentialsJSON, googleScope)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, googleScope)
	}
	if err != nil {
		return nil, fmt.Errorf("google credentials: %w", err)
	}
	return oauth2.NewClient(ctx, creds.TokenSource), nil
}
