package shared

import (
	"fmt"
	"os"
	"strconv"
)

const Version = "0.2.0"

// GetenvParser converts a raw environment value into a typed one.
type GetenvParser[T any] func(raw string) (T, error)

func GetenvString(raw string) (string, error) {
	return raw, nil
}

func GetenvInt(raw string) (int, error) {
	return strconv.Atoi(raw)
}

func GetenvBool(raw string) (bool, error) {
	return strconv.ParseBool(raw)
}

// Getenv reads and parses an environment variable. When the variable is
// unset: required=true yields an error, otherwise fallback is returned.
func Getenv[T any](parse GetenvParser[T], key string, required bool, fallback T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		if required {
			var zero T
			return zero, fmt.Errorf("environment variable %s is required", key)
		}
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parsing environment variable %s: %w", key, err)
	}
	return v, nil
}

// MustGetenv is Getenv for callers that treat a parse failure as fatal.
func MustGetenv[T any](parse GetenvParser[T], key string, required bool, fallback T) T {
	v, err := Getenv(parse, key, required, fallback)
	if err != nil {
		panic(err)
	}
	return v
}
