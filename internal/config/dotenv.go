package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadDotenv applies a .env file to the process environment. Variables
// already set win over file values; a missing file is not an error.
func LoadDotenv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	pairs, err := parseDotenv(f)
	if err != nil {
		return err
	}
	for key, value := range pairs {
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
	return nil
}

// parseDotenv reads KEY=VALUE lines. Blank lines and # comments are
// skipped, an optional "export " prefix is accepted, and matching
// surrounding quotes are stripped from values. Later assignments of the
// same key win within the file.
func parseDotenv(f *os.File) (map[string]string, error) {
	pairs := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		pairs[key] = unquote(strings.TrimSpace(value))
	}
	return pairs, scanner.Err()
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && (first == '"' || first == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
