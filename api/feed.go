package api

import (
	"context"
	"net/http"

	"github.com/kilianp07/fleetcast/api/httpjson"
)

// FeedEncoder renders the GTFS-Realtime feed.
type FeedEncoder interface {
	Marshal(ctx context.Context) ([]byte, error)
	JSON(ctx context.Context) ([]byte, error)
}

// NewFeedHandler serves the feed as protobuf, or as JSON with ?format=json.
func NewFeedHandler(f FeedEncoder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encode, ctype := f.Marshal, "application/x-protobuf"
		if r.URL.Query().Get("format") == "json" {
			encode, ctype = f.JSON, "application/json"
		}
		body, err := encode(r.Context())
		if err != nil {
			httpjson.ServerError(w, err)
			return
		}
		w.Header().Set("Content-Type", ctype)
		_, _ = w.Write(body)
	})
}
