package passphrase

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/term"
)

// MinLength is the shortest passphrase accepted for a new keystore.
const MinLength = 8

var ErrMismatch = errors.New("passphrases do not match")

// Source resolves keystore passphrases for the custody CLI. A passphrase file,
// set explicitly or named by the file environment variable, takes precedence
// over the passphrase environment variable, which takes precedence over an
// interactive prompt. Resolved passphrases are cached per keystore path.
type Source struct {
	envVar     string
	fileEnvVar string

	mu    sync.Mutex
	file  string
	cache map[string]string

	interactive func() bool
	prompt      func(label string) (string, error)
}

func NewSource(envVar, fileEnvVar string) *Source {
	return &Source{
		envVar:      strings.TrimSpace(envVar),
		fileEnvVar:  strings.TrimSpace(fileEnvVar),
		cache:       make(map[string]string),
		interactive: stdinIsTerminal,
		prompt:      promptTerminal,
	}
}

// SetFile makes path the passphrase file for every keystore resolved
// afterwards. Cached passphrases are dropped.
func (s *Source) SetFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = strings.TrimSpace(path)
	s.cache = make(map[string]string)
}

// Unlock returns the passphrase of an existing keystore.
func (s *Source) Unlock(keystore string) (string, error) {
	return s.resolve(keystore, false)
}

// Create returns the passphrase for a keystore about to be written. Passphrases
// shorter than MinLength are refused and interactive entry is asked twice.
func (s *Source) Create(keystore string) (string, error) {
	return s.resolve(keystore, true)
}

func (s *Source) resolve(keystore string, create bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := filepath.Clean(keystore)
	if value, ok := s.cache[key]; ok {
		return value, nil
	}
	value, err := s.lookup(keystore, create)
	if err != nil {
		return "", err
	}
	if create && len(value) < MinLength {
		return "", fmt.Errorf("passphrase for a new keystore must be at least %d characters", MinLength)
	}
	s.cache[key] = value
	return value, nil
}

func (s *Source) lookup(keystore string, create bool) (string, error) {
	file := s.file
	if file == "" && s.fileEnvVar != "" {
		file = strings.TrimSpace(os.Getenv(s.fileEnvVar))
	}
	if file != "" {
		return readFile(file)
	}

	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	if !s.interactive() {
		return "", fmt.Errorf("passphrase for %s required; %s", keystore, s.hint())
	}
	value, err := s.prompt(fmt.Sprintf("Passphrase for %s: ", filepath.Base(keystore)))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	if create {
		again, err := s.prompt("Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if again != value {
			return "", ErrMismatch
		}
	}
	return value, nil
}

func (s *Source) hint() string {
	var opts []string
	if s.envVar != "" {
		opts = append(opts, "set "+s.envVar)
	}
	if s.fileEnvVar != "" {
		opts = append(opts, "point "+s.fileEnvVar+" at a passphrase file")
	}
	opts = append(opts, "run interactively")
	return strings.Join(opts, ", ")
}

// readFile loads a passphrase from the first line of path. Files other users
// can read are refused.
func readFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("passphrase file: %w", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		return "", fmt.Errorf("passphrase file %s is accessible by other users (mode %04o)", path, info.Mode().Perm())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("passphrase file: %w", err)
	}
	value := string(raw)
	if i := strings.IndexAny(value, "\r\n"); i >= 0 {
		value = value[:i]
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("passphrase file %s is empty", path)
	}
	return value, nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func promptTerminal(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(bytes), nil
}
