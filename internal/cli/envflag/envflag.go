// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package envflag provides a wrapper around the standard flag package, allowing
// flags to be overridden by environment variables.
//
// Precedence is: value given on the command line, then the environment
// variable, then the default.
package envflag

import (
	"flag"
	"fmt"
	"strconv"
	"time"
)

// Type is a constraint that permits only types supported by envflag package.
type Type interface {
	int | int64 | bool | string | time.Duration
}

// Set binds flags of a [flag.FlagSet] to environment variable names.
type Set struct {
	fs   *flag.FlagSet
	envs map[string]string // flag name -> environment variable
}

// New returns a Set that registers flags on fs.
func New(fs *flag.FlagSet) *Set {
	return &Set{fs: fs, envs: make(map[string]string)}
}

// Value defines a flag with the given name, default value and usage, that can
// be overridden by the envName environment variable once [Set.Apply] is
// called.
func Value[T Type](s *Set, name, envName string, value T, usage string) *T {
	p := new(T)
	Var(s, p, name, envName, value, usage)
	return p
}

// Var is like [Value], but stores the flag value into p.
func Var[T Type](s *Set, p *T, name, envName string, value T, usage string) {
	*p = value
	if envName != "" {
		usage += " Can be overridden by " + envName + " environment variable."
		s.envs[name] = envName
	}
	s.fs.Var(&flagValue[T]{value: p}, name, usage)
}

// Apply sets every flag that was not given on the command line from its
// environment variable, if that variable is not empty. It must be called after
// the flag set is parsed.
func (s *Set) Apply(getenv func(string) string) error {
	explicit := make(map[string]bool)
	s.fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	for name, envName := range s.envs {
		if explicit[name] {
			continue
		}
		v := getenv(envName)
		if v == "" {
			continue
		}
		if err := s.fs.Set(name, v); err != nil {
			return fmt.Errorf("%s: %w", envName, err)
		}
	}
	return nil
}

type flagValue[T Type] struct {
	value *T
}

func (f *flagValue[T]) String() string {
	if f.value == nil {
		return ""
	}
	switch v := any(*f.value).(type) {
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case time.Duration:
		return v.String()
	}
	return ""
}

func (f *flagValue[T]) Set(s string) error {
	switch p := any(f.value).(type) {
	case *int:
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*p = v
	case *int64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*p = v
	case *bool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*p = v
	case *string:
		*p = s
	case *time.Duration:
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// IsBoolFlag lets boolean flags be given without a value.
func (f *flagValue[T]) IsBoolFlag() bool {
	_, ok := any(f.value).(*bool)
	return ok
}
