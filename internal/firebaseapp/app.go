// Package firebaseapp builds the Firebase Admin app shared by token verification and the
// Realtime Database store.
package firebaseapp

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

type Settings struct {
	// CredentialsJSON takes precedence over CredentialsFile.
	CredentialsJSON string
	CredentialsFile string
	ProjectID       string
	DatabaseURL     string
}

// ClientOptions picks the credential source. With neither set, Application Default
// Credentials apply.
func (s Settings) ClientOptions() []option.ClientOption {
	switch {
	case s.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(s.CredentialsJSON))}
	case s.CredentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(s.CredentialsFile)}
	}
	return nil
}

func New(ctx context.Context, s Settings) (*firebase.App, error) {
	conf := &firebase.Config{
		ProjectID:   s.ProjectID,
		DatabaseURL: s.DatabaseURL,
	}
	app, err := firebase.NewApp(ctx, conf, s.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firebase init error: %w", err)
	}
	log.Printf("Firebase initialized (project=%q)", s.ProjectID)
	return app, nil
}
