//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// secrets.json maps service -> account -> value.
type secretsDoc map[string]map[string]string

func secretsFilePath() string {
	p, _ := xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), appName, "secrets.json")
	return p
}

func keychainGet(service, account string) ([]byte, error) {
	var doc secretsDoc
	err := jsonFile(secretsFilePath()).read(&doc)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", errSecretNotFound, service, account)
	}
	if err != nil {
		return nil, err
	}
	val, ok := doc[service][account]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", errSecretNotFound, service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	f := jsonFile(secretsFilePath())

	doc := secretsDoc{}
	if err := f.read(&doc); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("refusing to overwrite unreadable secrets file: %w", err)
	}
	if doc == nil {
		doc = secretsDoc{}
	}
	if doc[service] == nil {
		doc[service] = make(map[string]string)
	}
	doc[service][account] = value
	return f.write(doc)
}
