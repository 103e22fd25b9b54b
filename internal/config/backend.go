package config

import "errors"

const appName = "kidsworld"

// errSecretNotFound is returned by the platform secret store when the
// service/account pair has no stored value.
var errSecretNotFound = errors.New("secret not found")

// ConfigBackend is where non-secret settings persist between runs: the
// UserDefaults domain on macOS, a JSON file elsewhere. ok reports whether
// the key was present at all.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
