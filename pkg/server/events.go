package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

// maxEventBody limits event payloads to 64KiB
const maxEventBody = 64 << 10

func readEventBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	ctx := r.Context()
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read event body", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return b, true
}

func (s *Server) handlePlugEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, ok := readEventBody(w, r)
	if !ok {
		return
	}
	ev, err := types.ParsePlugEvent(b)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid plug event", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.engine.PlugChanged(ctx, ev)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReadingEvent(apply func(Engine, context.Context, types.ReadingEvent)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		b, ok := readEventBody(w, r)
		if !ok {
			return
		}
		ev, err := types.ParseReadingEvent(b)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid reading event", slog.Any("error", err))
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		apply(s.engine, ctx, ev)
		w.WriteHeader(http.StatusAccepted)
	}
}
