package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fallbackFile serves secrets from a local file when Secret Manager cannot be reached. Each line
// is "secret://name[?version=N]=value"; blank lines and # comments are skipped. The file is read
// once, on first use.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref reference, version string) (string, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", f.err
	}
	if v, ok := f.values[versioned(ref.canonical, version)]; ok {
		return v, nil
	}
	if v, ok := f.values[ref.canonical]; ok {
		return v, nil
	}
	return "", fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open fallback file: %w", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitAssignment(line)
		if !ok {
			continue
		}
		key, value = canonicalScheme(key), strings.TrimSpace(value)
		ref, err := parseReference(key)
		if err != nil {
			f.values[key] = value
			continue
		}
		version := ref.version
		if version == "" {
			version = latestVersion
		}
		f.values[ref.canonical] = value
		f.values[versioned(ref.canonical, version)] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read fallback file: %w", err)
	}
}

// splitAssignment finds the '=' that ends the reference. A "?version=3" query carries its own
// '=', and DSN values usually contain more, so the split point is the first '=' after every
// query parameter has received its value.
func splitAssignment(line string) (key, value string, ok bool) {
	q := strings.IndexByte(line, '?')
	eq := strings.IndexByte(line, '=')
	switch {
	case eq < 0:
		return "", "", false
	case q < 0 || q > eq:
		return line[:eq], line[eq+1:], true
	}
	inValue := false
	for i := q + 1; i < len(line); i++ {
		switch line[i] {
		case '&':
			inValue = false
		case '=':
			if inValue {
				return line[:i], line[i+1:], true
			}
			inValue = true
		}
	}
	return "", "", false
}
