package envelope

import (
	"bytes"
	"encoding/json"
)

// APIInfo is the envelope's leading "api" block.
type APIInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// UserContext is the normalized principal view placed in the trailing
// "user" slot.
type UserContext struct {
	Authenticated bool   `json:"authenticated"`
	ID            string `json:"id,omitempty"`
	Email         string `json:"email,omitempty"`
	Org           string `json:"org,omitempty"`
	Level         int    `json:"level,omitempty"`
}

// UserInfo is the legacy principal shape still produced by older callers;
// NormalizeUser upgrades it to a UserContext.
type UserInfo struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Org   string `json:"org,omitempty"`
	Level int    `json:"level,omitempty"`
}

// DebugTiming carries request timing for the debug block.
type DebugTiming struct {
	Duration  string `json:"duration"`
	Timestamp string `json:"timestamp"`
}

// DebugRequest echoes the request back for the debug block. Authorization
// and cookie headers are redacted before they land here.
type DebugRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// DebugInfo is the "debug" slot payload.
type DebugInfo struct {
	Timing  DebugTiming  `json:"timing"`
	Request DebugRequest `json:"request"`
}

// Options is the assembler input. Optional slots stay empty via nil or
// zero; HasData distinguishes an intentionally null payload (a $schema
// lookup that found nothing) from an omitted one.
type Options struct {
	API      *APIInfo
	Context  string
	Type     string
	ID       string
	Links    map[string]string
	Key      string
	Data     any
	HasData  bool
	Discover any
	Total    *int64
	Limit    *int
	Offset   *int
	Page     *int
	HasMore  *bool
	Actions  map[string]any
	Options  map[string]string
	Recent   any
	Meta     map[string]any
	Debug    *DebugInfo
	Error    *Error
	User     *UserContext
}

// Envelope is the assembled response. Its JSON form is an ordered object:
// "api" first, then $context/$type/$id, links, the semantic payload under
// its configured key, the paging and discovery slots, and "user" last,
// regardless of how the struct was populated.
type Envelope struct {
	API      *APIInfo
	Context  string
	Type     string
	ID       string
	Links    map[string]string
	Key      string
	Data     any
	HasData  bool
	Discover any
	Total    *int64
	Limit    *int
	Offset   *int
	Page     *int
	HasMore  *bool
	Actions  map[string]string
	Options  map[string]string
	Recent   any
	Meta     map[string]any
	Debug    *DebugInfo
	Error    *Error
	User     *UserContext
}

// New assembles an envelope from options, applying the normalizations the
// contract requires: the api block and links map always exist, the semantic
// key defaults to "data", legacy {method, href} actions collapse to bare
// URLs, and error envelopes drop to the error slot.
func New(opts Options) *Envelope {
	api := opts.API
	if api == nil {
		api = &APIInfo{}
	}

	links := opts.Links
	if links == nil {
		links = map[string]string{}
	}

	key := opts.Key
	if key == "" {
		key = "data"
	}

	return &Envelope{
		API:      api,
		Context:  opts.Context,
		Type:     opts.Type,
		ID:       opts.ID,
		Links:    links,
		Key:      key,
		Data:     opts.Data,
		HasData:  opts.HasData,
		Discover: opts.Discover,
		Total:    opts.Total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
		Page:     opts.Page,
		HasMore:  opts.HasMore,
		Actions:  NormalizeActions(opts.Actions),
		Options:  opts.Options,
		Recent:   opts.Recent,
		Meta:     opts.Meta,
		Debug:    opts.Debug,
		Error:    opts.Error,
		User:     opts.User,
	}
}

// MarshalJSON writes the envelope keys in their fixed order.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	w := &orderedWriter{buf: &buf}
	w.field("api", e.API)
	if e.Context != "" {
		w.field("$context", e.Context)
	}
	if e.Type != "" {
		w.field("$type", e.Type)
	}
	if e.ID != "" {
		w.field("$id", e.ID)
	}
	w.field("links", e.Links)
	if e.HasData {
		w.field(e.Key, e.Data)
	}
	if e.Discover != nil {
		w.field("discover", e.Discover)
	}
	if e.Total != nil {
		w.field("total", *e.Total)
	}
	if e.Limit != nil {
		w.field("limit", *e.Limit)
	}
	if e.Offset != nil {
		w.field("offset", *e.Offset)
	}
	if e.Page != nil {
		w.field("page", *e.Page)
	}
	if e.HasMore != nil {
		w.field("hasMore", *e.HasMore)
	}
	if len(e.Actions) > 0 {
		w.field("actions", e.Actions)
	}
	if len(e.Options) > 0 {
		w.field("options", e.Options)
	}
	if e.Recent != nil {
		w.field("recent", e.Recent)
	}
	if len(e.Meta) > 0 {
		w.field("meta", e.Meta)
	}
	if e.Debug != nil {
		w.field("debug", e.Debug)
	}
	if e.Error != nil {
		w.field("error", e.Error)
	}
	if e.User != nil {
		w.field("user", e.User)
	}

	if w.err != nil {
		return nil, w.err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type orderedWriter struct {
	buf   *bytes.Buffer
	err   error
	wrote bool
}

func (w *orderedWriter) field(key string, value any) {
	if w.err != nil {
		return
	}
	if w.wrote {
		w.buf.WriteByte(',')
	}
	w.wrote = true

	keyJSON, err := json.Marshal(key)
	if err != nil {
		w.err = err
		return
	}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		w.err = err
		return
	}
	w.buf.Write(keyJSON)
	w.buf.WriteByte(':')
	w.buf.Write(valueJSON)
}

// RawPayload returns what the ?raw mode emits: the error object when the
// envelope carries one, otherwise the bare semantic payload.
func (e *Envelope) RawPayload() any {
	if e.Error != nil {
		return e.Error
	}
	return e.Data
}

// NormalizeActions collapses legacy {method, href} action values into bare
// URL strings. String values pass through; anything else is dropped.
func NormalizeActions(actions map[string]any) map[string]string {
	if actions == nil {
		return nil
	}
	out := make(map[string]string, len(actions))
	for name, value := range actions {
		switch v := value.(type) {
		case string:
			out[name] = v
		case map[string]any:
			if href, ok := v["href"].(string); ok {
				out[name] = href
			}
		case LegacyAction:
			out[name] = v.Href
		case *LegacyAction:
			if v != nil {
				out[name] = v.Href
			}
		}
	}
	return out
}

// LegacyAction is the deprecated {method, href} action form.
type LegacyAction struct {
	Method string `json:"method"`
	Href   string `json:"href"`
}

// NormalizeUser upgrades a legacy UserInfo into a UserContext. A UserInfo
// was only ever attached for authenticated principals, so the upgrade sets
// authenticated true.
func NormalizeUser(info UserInfo) *UserContext {
	return &UserContext{
		Authenticated: true,
		ID:            info.ID,
		Email:         info.Email,
		Org:           info.Org,
		Level:         info.Level,
	}
}
