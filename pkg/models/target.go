package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	ErrInvalidTarget = errors.New("target must be a valid email, phone number, username, or keyword")
	ErrInvalidLevel  = errors.New("aggression level must be one of gentle, normal, aggressive")
)

type TargetType string

const (
	TargetEmail    TargetType = "email"
	TargetPhone    TargetType = "phone"
	TargetUsername TargetType = "username"
	TargetKeyword  TargetType = "keyword"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9\s\-()\[\]]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,30}$`)
	keywordPattern  = regexp.MustCompile(`^\S{1,100}$`)
)

// Target is classified once at the entry boundary and handed to every
// stage by value.
type Target struct {
	Raw  string     `json:"raw"`
	Type TargetType `json:"type"`
}

func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, ErrInvalidTarget
	}
	switch {
	case emailPattern.MatchString(raw):
		return Target{Raw: raw, Type: TargetEmail}, nil
	case phonePattern.MatchString(raw):
		if _, ok := NormalizePhone(raw); ok {
			return Target{Raw: raw, Type: TargetPhone}, nil
		}
		return Target{}, fmt.Errorf("%w: %q is not a dialable phone number", ErrInvalidTarget, raw)
	case usernamePattern.MatchString(raw):
		return Target{Raw: raw, Type: TargetUsername}, nil
	case keywordPattern.MatchString(raw):
		return Target{Raw: raw, Type: TargetKeyword}, nil
	}
	return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
}

// NormalizePhone returns the E.164 form of a number written with an
// international prefix.
func NormalizePhone(raw string) (string, bool) {
	num, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

func (t Target) String() string { return t.Raw }

func (t Target) IsEmail() bool { return strings.Contains(t.Raw, "@") }

// Handle is the local part of an email, or the target itself.
func (t Target) Handle() string {
	if i := strings.Index(t.Raw, "@"); i >= 0 {
		return t.Raw[:i]
	}
	return t.Raw
}

// Domain is the part after the @, or the target itself.
func (t Target) Domain() string {
	if i := strings.LastIndex(t.Raw, "@"); i >= 0 {
		return t.Raw[i+1:]
	}
	return t.Raw
}

func (t Target) SafeName() string {
	r := strings.NewReplacer("@", "_at_", "/", "_", "\\", "_")
	return r.Replace(t.Raw)
}

type AggressionLevel string

const (
	LevelGentle     AggressionLevel = "gentle"
	LevelNormal     AggressionLevel = "normal"
	LevelAggressive AggressionLevel = "aggressive"
)

func ParseAggressionLevel(s string) (AggressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gentle":
		return LevelGentle, nil
	case "normal", "":
		return LevelNormal, nil
	case "aggressive", "black":
		return LevelAggressive, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrInvalidLevel, s)
}

func (l AggressionLevel) IsAggressive() bool { return l == LevelAggressive }
