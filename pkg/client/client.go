package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/quka-ai/ragstream/pkg/errors"
	"github.com/quka-ai/ragstream/pkg/i18n"
	"github.com/quka-ai/ragstream/pkg/mark"
	"github.com/quka-ai/ragstream/pkg/stream"
	"github.com/quka-ai/ragstream/pkg/types"
	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

const (
	CHAT_PATH         = "/api/chat"
	MESSAGE_ID_HEADER = "X-Message-Id"

	DEFAULT_TIMEOUT = 5 * time.Minute
)

type ApplyFunc func(s *Session)

func WithHTTPClient(c *http.Client) ApplyFunc {
	return func(s *Session) {
		s.client = c
	}
}

func WithLanguage(lang string) ApplyFunc {
	return func(s *Session) {
		s.lang = lang
	}
}

// WithEventHandler sees every decoded frame while a response is read.
func WithEventHandler(fn func(stream.Event)) ApplyFunc {
	return func(s *Session) {
		s.onEvent = fn
	}
}

// WithStartHandler is called with the message id of a reply once its headers
// arrive, before any frame is read. The id can be passed to Stop from another
// goroutine while Ask is still reading.
func WithStartHandler(fn func(msgID string)) ApplyFunc {
	return func(s *Session) {
		s.onStart = fn
	}
}

// Session is one client side conversation. Ask calls are serialized, so the
// history is never written by two responses at once.
type Session struct {
	mu       sync.Mutex
	endpoint string
	client   *http.Client
	lang     string
	onEvent  func(stream.Event)
	onStart  func(msgID string)

	history []types.ConversationTurn
	// search results of the response being read
	pending types.ShortIDTable
}

func NewSession(endpoint string, opts ...ApplyFunc) *Session {
	s := &Session{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: DEFAULT_TIMEOUT},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Turn is an assistant reply together with the passages of its own response.
type Turn struct {
	types.ConversationTurn
}

// Segments resolves the citation markers of the turn against its own table.
func (t Turn) Segments(citations []types.NumberedCitation) []mark.Segment {
	var segs []mark.Segment
	for seg := range mark.Resolve(t.Content, citations, t.ResolvedPassages) {
		segs = append(segs, seg)
	}
	return segs
}

type errorEnvelope struct {
	Meta struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"meta"`
}

// Ask sends question with the whole history and reads the streamed reply. A
// reply that ends in an error frame is returned with Error set and is not
// added to the history, neither is its question.
func (s *Session) Ask(ctx context.Context, question string, mode types.SearchMode) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil

	user := types.ConversationTurn{
		ID:      uuid.NewString(),
		Role:    types.CHAT_ROLE_USER,
		Content: question,
	}
	messages := append(lo.Map(s.history, func(item types.ConversationTurn, _ int) types.ChatMessage {
		return item.ToMessage()
	}), user.ToMessage())

	body, err := json.Marshal(types.ChatRequest{Messages: messages, SearchMode: mode})
	if err != nil {
		return Turn{}, errors.New("Session.Ask.MarshalRequest", i18n.ERROR_INTERNAL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+CHAT_PATH, bytes.NewReader(body))
	if err != nil {
		return Turn{}, errors.New("Session.Ask.NewRequest", i18n.ERROR_INTERNAL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.lang != "" {
		req.Header.Set("Accept-Language", s.lang)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Turn{}, errors.New("Session.Ask.Do", i18n.ERROR_BACKEND_UNAVAILABLE, err).
			WithKind(errors.KindBackendUnavailable).
			Code(http.StatusBadGateway)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Turn{}, responseError(resp)
	}

	msgID := resp.Header.Get(MESSAGE_ID_HEADER)
	if msgID != "" && s.onStart != nil {
		s.onStart(msgID)
	}

	dec := stream.NewDecoder(stream.NewRepairReader(resp.Body))
	res, err := dec.Collect(func(ev stream.Event) {
		if ev.Type == stream.EVENT_SEARCH_RESULTS {
			s.pending = ev.SearchResults
		}
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	})
	if err != nil {
		return Turn{}, errors.New("Session.Ask.Collect", i18n.ERROR_BACKEND_UNAVAILABLE, err).
			WithKind(errors.KindBackendUnavailable).
			Code(http.StatusBadGateway)
	}

	turn := Turn{types.ConversationTurn{
		ID:               lo.Ternary(msgID != "", msgID, uuid.NewString()),
		Role:             types.CHAT_ROLE_ASSISTANT,
		Content:          res.Text,
		ResolvedPassages: s.pending,
		FinishReason:     res.FinishReason,
	}}
	s.pending = nil

	if res.FinishReason == protocol.FINISH_REASON_ERROR {
		turn.Error = res.ErrorMessage
		if turn.Error == "" {
			turn.Error = stream.DEFAULT_ERROR_MESSAGE
		}
		return turn, nil
	}

	usage := res.Usage
	turn.Usage = &usage
	s.history = append(s.history, user, turn.ConversationTurn)
	return turn, nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var envelope errorEnvelope
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &envelope) == nil && envelope.Meta.Message != "" {
		message = envelope.Meta.Message
	}

	err := errors.New("Session.Ask.StatusCode", i18n.ERROR_BACKEND_UNAVAILABLE,
		fmt.Errorf("status %d: %s", resp.StatusCode, message)).Code(resp.StatusCode)
	if resp.StatusCode == http.StatusBadRequest {
		return err.WithKind(errors.KindValidation)
	}
	return err.WithKind(errors.KindBackendUnavailable)
}

// Stop asks the server to cancel the reply of msgID.
func (s *Session) Stop(ctx context.Context, msgID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+CHAT_PATH+"/"+msgID+"/stop", nil)
	if err != nil {
		return errors.New("Session.Stop.NewRequest", i18n.ERROR_INTERNAL, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.New("Session.Stop.Do", i18n.ERROR_BACKEND_UNAVAILABLE, err).WithKind(errors.KindBackendUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return nil
}

// History returns a copy of the completed turns.
func (s *Session) History() []types.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ConversationTurn(nil), s.history...)
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.pending = nil
}
