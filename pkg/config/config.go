// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config layers configuration sources on top of each other and
// decodes the result into plain structs tagged with `config`.
package config

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Store is the layered key value structure sources are applied to.
type Store interface {
	// Merge deep merges the given values over any existing ones.
	Merge(map[string]any) error

	// Default sets a value which is only used if no source provides one.
	Default(key string, v any) error
}

// Source defines valid config sources as those who can
// apply themselves to a [Store].
type Source interface {
	Apply(Store) error
}

// SourceFunc is a func which implements the [Source] interface.
type SourceFunc func(Store) error

// Apply implements the [Source] interface.
func (f SourceFunc) Apply(store Store) error {
	return f(store)
}

// Manager holds the merged result of applying one or more [Source]s.
type Manager struct {
	v *viper.Viper
}

// Read applies every source, in order, to an empty [Manager].
// Subsequent sources override previous sources.
func Read(srcs ...Source) (*Manager, error) {
	m := &Manager{
		v: viper.New(),
	}
	for _, src := range srcs {
		err := src.Apply(m.store())
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Merge applies a single additional source to m, overriding any
// values previously read.
func Merge(m *Manager, src Source) error {
	return src.Apply(m.store())
}

// Apply implements the [Source] interface, allowing a [Manager] to be
// used as the source of another.
func (m *Manager) Apply(store Store) error {
	return store.Merge(m.v.AllSettings())
}

// Unmarshal decodes every config value into v.
func (m *Manager) Unmarshal(v any) error {
	return decode(m.v.AllSettings(), v)
}

// UnmarshalKey decodes the sub tree found at key into v. Nested keys
// are separated by a ".". A missing key leaves v untouched.
func (m *Manager) UnmarshalKey(key string, v any) error {
	var input any = m.v.AllSettings()
	for _, k := range strings.Split(strings.ToLower(key), ".") {
		sub, ok := input.(map[string]any)
		if !ok {
			return nil
		}
		input, ok = sub[k]
		if !ok {
			return nil
		}
	}
	return decode(input, v)
}

func (m *Manager) store() Store {
	return viperStore{v: m.v}
}

type viperStore struct {
	v *viper.Viper
}

func (s viperStore) Merge(values map[string]any) error {
	return s.v.MergeConfigMap(values)
}

func (s viperStore) Default(key string, v any) error {
	s.v.SetDefault(key, v)
	return nil
}

// input is expected to come from AllSettings, which, unlike viper.Get,
// merges defaults nested below a key.
func decode(input, output any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		Result:           output,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			textUnmarshalerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// TypeCoercionError occurs when a string config value can not be
// unmarshaled into a field implementing [encoding.TextUnmarshaler].
type TypeCoercionError struct {
	To    reflect.Type
	Cause error
}

// Error implements the [builtin.error] interface.
func (e TypeCoercionError) Error() string {
	return fmt.Sprintf("failed to coerce value to %s: %s", e.To, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e TypeCoercionError) Unwrap() error {
	return e.Cause
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

func textUnmarshalerHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if !reflect.PointerTo(t).Implements(textUnmarshalerType) {
			return data, nil
		}

		result := reflect.New(t)
		err := result.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(data.(string)))
		if err != nil {
			return nil, TypeCoercionError{To: t, Cause: err}
		}
		return result.Elem().Interface(), nil
	}
}
