package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	errInvalidInput = errors.New("invalid input or empty path")
	errNoWildcard   = errors.New("no matching elements found for wildcard path")
	// ErrPathNotFound is wrapped by Jq errors for paths that do not resolve.
	ErrPathNotFound = errors.New("path not found")
)

// Jq extracts values from a JSON-like map, such as token claims, using a
// dotted path like the jq cli: ".org.id", "roles[0].name", "roles[].name".
func Jq(input map[string]any, path string) (any, error) {
	if input == nil || path == "" {
		return nil, errInvalidInput
	}
	return walk(input, splitPath(path))
}

// JqString is Jq for string values.
func JqString(input map[string]any, path string) (string, error) {
	v, err := Jq(input, path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, not a string", ErrPathNotFound, path, v)
	}
	return s, nil
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(path, ".")
	keys := make([]string, 0, 4)
	for key := range strings.SplitSeq(path, ".") {
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func walk(current any, keys []string) (any, error) {
	for i, key := range keys {
		currentMap, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected map at path segment %s", ErrPathNotFound, key)
		}

		if !strings.ContainsRune(key, '[') {
			value, exists := currentMap[key]
			if !exists {
				return nil, fmt.Errorf("%w: key %s", ErrPathNotFound, key)
			}
			current = value
			continue
		}

		arrayKey, indexStr, err := splitKeyAndIndex(key)
		if err != nil {
			return nil, err
		}
		array, ok := currentMap[arrayKey].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected array at key %s", ErrPathNotFound, arrayKey)
		}

		if indexStr == "*" || indexStr == "" {
			if i == len(keys)-1 {
				return array, nil
			}
			return collect(array, keys[i+1:])
		}

		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 || index >= len(array) {
			return nil, fmt.Errorf("%w: invalid index %s at key %s", ErrPathNotFound, indexStr, arrayKey)
		}
		current = array[index]
	}
	return current, nil
}

func splitKeyAndIndex(key string) (string, string, error) {
	start := strings.IndexByte(key, '[')
	end := strings.IndexByte(key, ']')
	if start == -1 || end == -1 || end < start {
		return "", "", fmt.Errorf("malformed array syntax in key: %s", key)
	}
	return key[:start], key[start+1 : end], nil
}

// collect resolves the remaining keys against every element of array,
// flattening array results and skipping elements that do not resolve.
func collect(array []any, keys []string) (any, error) {
	results := make([]any, 0, len(array))
	for _, item := range array {
		value, err := walk(item, keys)
		if err != nil {
			continue
		}
		if v, ok := value.([]any); ok {
			results = append(results, v...)
		} else {
			results = append(results, value)
		}
	}
	if len(results) == 0 {
		return nil, errNoWildcard
	}
	return results, nil
}
