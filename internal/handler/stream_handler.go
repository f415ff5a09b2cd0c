package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/furima/internal/middleware"
	"github.com/hitoshi/furima/internal/model"
	"github.com/hitoshi/furima/internal/realtime"
)

// StreamHandler は通知のServer-Sent Eventsストリームを提供するハンドラー。
type StreamHandler struct {
	registry *realtime.Registry
}

// NewStreamHandler はStreamHandlerを生成する。
func NewStreamHandler(registry *realtime.Registry) *StreamHandler {
	return &StreamHandler{registry: registry}
}

// Stream は認証済みユーザーのライブ通知ストリームを開始する。
// クライアントの切断（コンテキストのキャンセル）で購読を解除する。
// GET /api/notifications/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("SSEストリーミングがサポートされていません",
			slog.String("user_id", userID),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := h.registry.Subscribe(userID)
	defer h.registry.Unsubscribe(userID, conn)

	slog.Info("ライブストリームを開始しました",
		slog.String("user_id", userID),
	)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-conn.Events():
			if !open {
				// レジストリ側で切断された（バッファ満杯または失効）
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				slog.Warn("SSEイベントの書き込みに失敗しました",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				return
			}
			flusher.Flush()
			conn.Touch()
		}
	}
}

// writeSSEEvent はイベントをSSEフレームとして書き込む。
func writeSSEEvent(w http.ResponseWriter, ev realtime.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("イベントのJSONエンコードに失敗しました: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("SSEフレームの書き込みに失敗しました: %w", err)
	}
	return nil
}
