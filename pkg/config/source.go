// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"io"

	"github.com/z5labs/loam/internal/try"

	"github.com/spf13/viper"
)

// Language is the format of a config document.
type Language string

const (
	YAML Language = "yaml"
	JSON Language = "json"
)

// Map is a [Source] of already structured values.
type Map map[string]any

// Apply implements the [Source] interface.
func (m Map) Apply(store Store) error {
	return store.Merge(m)
}

// Defaults is a [Source] whose values are only used when no other
// source sets them. Nested keys are separated by a ".".
type Defaults map[string]any

// Apply implements the [Source] interface.
func (d Defaults) Apply(store Store) error {
	for k, v := range d {
		err := store.Default(k, v)
		if err != nil {
			return err
		}
	}
	return nil
}

// Reader is a [Source] which parses a config document in the given [Language].
type Reader struct {
	r    io.Reader
	lang Language
}

// FromReader returns a [Source] which parses r as lang. If r implements
// [io.Closer] it is closed once read.
func FromReader(r io.Reader, lang Language) Reader {
	return Reader{r: r, lang: lang}
}

// FromYaml is shorthand for [FromReader] with [YAML].
func FromYaml(r io.Reader) Reader {
	return FromReader(r, YAML)
}

// FromJson is shorthand for [FromReader] with [JSON].
func FromJson(r io.Reader) Reader {
	return FromReader(r, JSON)
}

// InvalidDocumentError occurs if the underlying [io.Reader] does not
// contain a valid document of the expected [Language].
type InvalidDocumentError struct {
	Language Language
	Cause    error
}

// Error implements the [builtin.error] interface.
func (e InvalidDocumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Language, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidDocumentError) Unwrap() error {
	return e.Cause
}

// Apply implements the [Source] interface.
func (src Reader) Apply(store Store) (err error) {
	defer try.Close(&err, src.r)

	v := viper.New()
	v.SetConfigType(string(src.lang))
	err = v.ReadConfig(src.r)
	if err != nil {
		return InvalidDocumentError{Language: src.lang, Cause: err}
	}
	return store.Merge(v.AllSettings())
}
