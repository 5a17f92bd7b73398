// Package dbpath implements the run locator scheme used to label measurement
// runs. A locator is not a filesystem path: it is a single delimited string
// of the form
//
//	<collection>/<sub identifier>/<run counter>
//
// where the sub identifier may itself contain slashes. The identity form
// omits the trailing counter and names a family of runs rather than a single
// one.
package dbpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultSub is the sub identifier recorded when none is given.
const DefaultSub = "None"

const sep = "/"

var (
	// ErrEmptyPath is returned when decoding an empty string.
	ErrEmptyPath = errors.New("empty path")

	// ErrBadCounter is returned when the trailing segment of a locator is
	// not a non-negative integer.
	ErrBadCounter = errors.New("run counter is not a non-negative integer")
)

// EncodeIdentity joins a collection name and sub identifier into an identity
// string. An empty sub is replaced with DefaultSub.
func EncodeIdentity(collection, sub string) string {
	if sub == "" {
		sub = DefaultSub
	}

	return collection + sep + sub
}

// EncodeLocator joins a collection name, sub identifier and run counter into
// a run locator. An empty sub is replaced with DefaultSub.
func EncodeLocator(collection, sub string, counter int) string {
	return EncodeIdentity(collection, sub) + sep + strconv.Itoa(counter)
}

// DecodeIdentity splits an identity string into collection and sub
// identifier. The first segment is the collection; everything after it is
// rejoined as the sub identifier. A bare collection yields DefaultSub.
func DecodeIdentity(path string) (collection, sub string, err error) {
	if path == "" {
		return "", "", ErrEmptyPath
	}

	parts := strings.Split(path, sep)
	collection = parts[0]
	if len(parts) == 1 {
		return collection, DefaultSub, nil
	}

	return collection, strings.Join(parts[1:], sep), nil
}

// DecodeLocator splits a run locator into collection, sub identifier and run
// counter. The first segment is the collection, the last must be the
// counter, and everything between is rejoined as the sub identifier.
func DecodeLocator(path string) (collection, sub string, counter int, err error) {
	if path == "" {
		return "", "", 0, ErrEmptyPath
	}

	parts := strings.Split(path, sep)
	if len(parts) < 2 {
		return "", "", 0, fmt.Errorf("locator %q has no run counter segment", path)
	}

	counter, err = strconv.Atoi(parts[len(parts)-1])
	if err != nil || counter < 0 {
		return "", "", 0, fmt.Errorf("locator %q: %w", path, ErrBadCounter)
	}

	collection = parts[0]
	sub = strings.Join(parts[1:len(parts)-1], sep)
	if sub == "" {
		sub = DefaultSub
	}

	return collection, sub, counter, nil
}
