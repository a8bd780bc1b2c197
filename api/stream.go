package api

import (
	"encoding/json"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/dot-do/gateway/envelope"
)

// streamEnvelope replays an envelope as server-sent events: the api block
// first, one data event per item for list payloads, then links and a
// terminal done event. Errors stream too, so a client reading events needs
// no second code path.
func streamEnvelope(c echo.Context, status int, e *envelope.Envelope) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(status)

	send := func(event string, payload any) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, raw); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	if err := send("api", e.API); err != nil {
		return err
	}

	if e.HasData {
		items, many := streamItems(e.Data)
		if !many {
			if err := send("data", e.Data); err != nil {
				return err
			}
		} else {
			ctx := c.Request().Context()
			for _, item := range items {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err := send("data", item); err != nil {
					return err
				}
			}
		}
	}

	if len(e.Links) > 0 {
		if err := send("links", e.Links); err != nil {
			return err
		}
	}
	if e.Error != nil {
		if err := send("error", e.Error); err != nil {
			return err
		}
	}
	return send("done", map[string]any{"ok": e.Error == nil})
}

func streamItems(data any) ([]any, bool) {
	switch v := data.(type) {
	case []any:
		return v, true
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, true
	case []envelope.CollectionItem:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, true
	}
	return nil, false
}
