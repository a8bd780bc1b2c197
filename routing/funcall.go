package routing

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dot-do/gateway/ids"
)

// functionNamePattern allows dotted names for namespacing ("papa.parse").
var functionNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.]*$`)

// kwargKeyPattern is the identifier shape accepted on the left of "=".
var kwargKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

var numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// ErrInvalidCall is returned when a segment is not a function-call form.
var ErrInvalidCall = errors.New("invalid function call")

// ArgKind classifies a positional argument token.
type ArgKind string

const (
	ArgURL    ArgKind = "url"
	ArgNumber ArgKind = "number"
	ArgEntity ArgKind = "entity"
	ArgString ArgKind = "string"
)

// Arg is one classified function-call argument.
type Arg struct {
	Kind   ArgKind
	Value  string
	Number float64
	Entity *ids.Identifier
}

// FunctionCall is the parsed form of a "name(arg,...,k=v,...)" segment.
type FunctionCall struct {
	Name   string
	Args   []Arg
	Kwargs map[string]Arg
}

// ParseCall parses a single path segment of the form "name(args)".
//
// The argument list splits on literal commas. A comma that belongs inside an
// argument value (URLs most commonly) must be URL-encoded as %2C; each token
// is unescaped after the split.
func ParseCall(segment string) (*FunctionCall, error) {
	open := strings.Index(segment, "(")
	if open <= 0 {
		return nil, fmt.Errorf("%w: missing name or opening paren in %q", ErrInvalidCall, segment)
	}
	if !strings.HasSuffix(segment, ")") || len(segment) < open+2 {
		return nil, fmt.Errorf("%w: unterminated argument list in %q", ErrInvalidCall, segment)
	}

	name := segment[:open]
	if !functionNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: bad function name %q", ErrInvalidCall, name)
	}

	call := &FunctionCall{Name: name, Kwargs: map[string]Arg{}}

	inner := segment[open+1 : len(segment)-1]
	if inner == "" {
		return call, nil
	}

	for _, token := range strings.Split(inner, ",") {
		token = unescapeToken(token)
		if token == "" {
			continue
		}

		if key, value, isKwarg := splitKwarg(token); isKwarg {
			call.Kwargs[key] = ClassifyArg(value)
			continue
		}
		call.Args = append(call.Args, ClassifyArg(token))
	}

	return call, nil
}

// ClassifyArg types a token: url, number, entity, then string. The RPC and
// MCP transports run string arguments through the same classifier so a call
// behaves identically no matter which transport carried it.
func ClassifyArg(token string) Arg {
	if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
		return Arg{Kind: ArgURL, Value: token}
	}
	if numberPattern.MatchString(token) {
		n, err := strconv.ParseFloat(token, 64)
		if err == nil {
			return Arg{Kind: ArgNumber, Value: token, Number: n}
		}
	}
	if id, err := ids.Parse(token); err == nil {
		return Arg{Kind: ArgEntity, Value: token, Entity: &id}
	}
	return Arg{Kind: ArgString, Value: token}
}

// splitKwarg detects "key=value" with an identifier-shaped key. Tokens
// carrying a URL scheme are never kwargs even when their query part
// contains "=".
func splitKwarg(token string) (key, value string, ok bool) {
	if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
		return "", "", false
	}
	key, value, found := strings.Cut(token, "=")
	if !found || !kwargKeyPattern.MatchString(key) {
		return "", "", false
	}
	return key, value, true
}

func unescapeToken(token string) string {
	if u, err := url.PathUnescape(token); err == nil {
		return u
	}
	return token
}
