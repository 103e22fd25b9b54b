//go:build !darwin

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// xdgPath resolves elem under the directory named by env, falling back to
// homeRel inside the user's home directory.
func xdgPath(env, homeRel string, elem ...string) (string, bool) {
	dir := os.Getenv(env)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(elem...), false
		}
		dir = filepath.Join(home, homeRel)
	}
	return filepath.Join(append([]string{dir}, elem...)...), true
}

func defaultDataDir() string {
	if p, ok := xdgPath("XDG_DATA_HOME", filepath.Join(".local", "share"), appName); ok {
		return p
	}
	return appName + "-data"
}

func configFilePath() string {
	p, _ := xdgPath("XDG_CONFIG_HOME", ".config", appName, "config.json")
	return p
}

func apiKeyHint() string {
	return fmt.Sprintf(" or %s (service: %s, account: %s)", secretsFilePath(), secretService, accountAPIKey)
}

// jsonFile is a JSON document readable only by its owner. Numbers decode
// as json.Number so integers survive a round trip unchanged.
type jsonFile string

func (f jsonFile) read(v any) error {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parsing %s: %w", f, err)
	}
	return nil
}

// write replaces the document atomically through a temp file in the same
// directory.
func (f jsonFile) write(v any) error {
	dir := filepath.Dir(string(f))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(string(f))+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), string(f))
}

// fileBackend keeps settings as one flat JSON object keyed by the dotted
// config key.
type fileBackend struct {
	file jsonFile
	data map[string]any
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{file: jsonFile(path), data: make(map[string]any)}
	if err := b.file.read(&b.data); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring config file: %v\n", err)
		b.data = nil
	}
	if b.data == nil {
		b.data = make(map[string]any)
	}
	return b
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	switch v := b.data[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	default:
		return fmt.Sprint(v), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	var raw string
	switch v := b.data[key].(type) {
	case nil:
		return 0, false, nil
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	default:
		return 0, true, fmt.Errorf("%s: expected an integer, got %T", key, v)
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.data[key] = val
	return b.file.write(b.data)
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.data[key] = val
	return b.file.write(b.data)
}

func (b *fileBackend) Delete(key string) error {
	delete(b.data, key)
	return b.file.write(b.data)
}
