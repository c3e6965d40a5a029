package domain

import (
	"fmt"
	"os"
)

// StoreCredentials is the URL/key pair authenticating to the hosted data
// store. Both scripts read it from their process environment; it is never
// persisted in run records and never logged.
type StoreCredentials struct {
	URL string
	Key string
}

// StoreCredentialsFromEnv reads the credential pair from SUPABASE_URL and
// SUPABASE_KEY.
func StoreCredentialsFromEnv() StoreCredentials {
	return StoreCredentials{
		URL: os.Getenv("SUPABASE_URL"),
		Key: os.Getenv("SUPABASE_KEY"),
	}
}

// IsZero reports whether both halves of the pair are unset.
func (c StoreCredentials) IsZero() bool {
	return c.URL == "" && c.Key == ""
}

// Env returns the pair as environment entries for a script process.
func (c StoreCredentials) Env() []string {
	return []string{
		"SUPABASE_URL=" + c.URL,
		"SUPABASE_KEY=" + c.Key,
	}
}

// String redacts the key so the pair is safe to format.
func (c StoreCredentials) String() string {
	return fmt.Sprintf("StoreCredentials{URL:%s Key:REDACTED}", c.URL)
}
