package gateway

import (
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/robolab/roverhub/pkg/bus"
	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/protocol"
)

// pollResponse is the long-poll fallback payload. Next is the cursor to pass
// as from on the next request; Gap reports replay history that had already
// been evicted.
type pollResponse struct {
	Topic    string           `json:"topic"`
	Messages []domain.Message `json:"messages"`
	Next     uint64           `json:"next"`
	Gap      bool             `json:"gap"`
}

// handlePoll is the cursor-based long-poll fallback for clients without
// websocket support: GET /api/poll?topic=X&from=N&wait=seconds. The request
// parks until a message arrives or the wait expires; each request is an
// ephemeral subscription, so no server-side session outlives the response.
func (s *APIServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	topicName := r.URL.Query().Get("topic")
	if topicName == "" {
		respondJSON(w, http.StatusBadRequest, protocol.ErrorPayload{
			Code:    "INVALID_POLL",
			Message: "topic is required",
		})
		return
	}

	from := uint64(queryInt(r, "from", 0))
	wait := time.Duration(queryInt(r, "wait", 25)) * time.Second
	if wait > 60*time.Second {
		wait = 60 * time.Second
	}

	connID := "poll-" + xid.New().String()
	sub, err := s.gateway.bus.Subscribe(connID, topicName, bus.SubscribeOptions{FromSequence: from})
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, protocol.ErrorPayload{
			Code:    "SUBSCRIBE_FAILED",
			Message: err.Error(),
		})
		return
	}
	defer s.gateway.bus.UnsubscribeAll(connID)

	resp := pollResponse{
		Topic:    topicName,
		Messages: make([]domain.Message, 0),
		Next:     from,
		Gap:      sub.Gap,
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	// Park until the first message, then drain whatever else is queued.
	select {
	case msg, ok := <-sub.C():
		if ok {
			resp.Messages = append(resp.Messages, msg)
		}
	case <-timer.C:
	case <-r.Context().Done():
		return
	}

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				s.finishPoll(w, resp)
				return
			}
			resp.Messages = append(resp.Messages, msg)
		default:
			s.finishPoll(w, resp)
			return
		}
	}
}

func (s *APIServer) finishPoll(w http.ResponseWriter, resp pollResponse) {
	if n := len(resp.Messages); n > 0 {
		resp.Next = resp.Messages[n-1].Sequence + 1
	}
	respondJSON(w, http.StatusOK, resp)
}
