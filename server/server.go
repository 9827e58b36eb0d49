// Package server exposes tutoring chat over websockets, one conversation
// history per connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/pkg/fusion"
	"github.com/xhad/tutor/pkg/llm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope for both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// ChatOptions may accompany a chat message as its data.
type ChatOptions struct {
	Namespace  string `json:"namespace"`
	Scope      string `json:"scope"`
	DeepSearch *bool  `json:"deep_search"`
}

type inbound struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    ChatOptions `json:"data"`
}

// Reference is a lesson surfaced alongside an answer.
type Reference struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Composer interface {
	ComposePrompt(ctx context.Context, req fusion.Request) (*fusion.Result, error)
}

type Chatter interface {
	Chat(ctx context.Context, prompt string) (*llm.Reply, error)
	ChatStream(ctx context.Context, prompt string) (<-chan string, error)
}

type Config struct {
	Streaming  bool
	DeepSearch bool // default for messages that do not say
	Gatherer   prometheus.Gatherer
	Logger     *zerolog.Logger
}

type WSServer struct {
	config   Config
	composer Composer
	chat     Chatter
	log      zerolog.Logger
}

func NewWSServer(composer Composer, chat Chatter, config Config) (*WSServer, error) {
	if composer == nil || chat == nil {
		return nil, errors.New("server needs a prompt composer and a chat engine")
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	s := &WSServer{config: config, composer: composer, chat: chat, log: zerolog.Nop()}
	if config.Logger != nil {
		s.log = *config.Logger
	}
	return s, nil
}

// Handler serves /ws, /health and /metrics.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("starting websocket server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type session struct {
	id      string
	conn    *websocket.Conn
	history models.History
	log     zerolog.Logger
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &session{id: uuid.NewString(), conn: conn}
	sess.log = s.log.With().Str("session", sess.id).Logger()
	s.send(sess, Message{Type: "session", Content: sess.id})

	// A failed read cancels ctx, aborting the chat in flight.
	inbox := make(chan []byte)
	go func() {
		defer close(inbox)
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					sess.log.Debug().Err(err).Msg("connection closed")
				}
				return
			}
			select {
			case inbox <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for data := range inbox {
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(sess, Message{Type: "error", Content: "invalid message"})
			continue
		}

		switch msg.Type {
		case "chat", "":
			s.handleChat(ctx, sess, msg)
		case "reset":
			sess.history = models.History{}
			s.send(sess, Message{Type: "status", Content: "history cleared"})
		default:
			s.send(sess, Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

func (s *WSServer) handleChat(ctx context.Context, sess *session, msg inbound) {
	query := strings.TrimSpace(msg.Content)
	if query == "" {
		s.send(sess, Message{Type: "error", Content: "empty message"})
		return
	}

	deep := s.config.DeepSearch
	if msg.Data.DeepSearch != nil {
		deep = *msg.Data.DeepSearch
	}

	res, err := s.composer.ComposePrompt(ctx, fusion.Request{
		History:    sess.history.Turns(),
		Query:      query,
		Namespace:  msg.Data.Namespace,
		Scope:      msg.Data.Scope,
		DeepSearch: deep,
	})
	if err != nil {
		sess.log.Error().Err(err).Msg("failed to compose prompt")
		s.send(sess, Message{Type: "error", Content: fmt.Sprintf("Error: %v", err)})
		return
	}

	if len(res.Referenced) > 0 {
		refs := make([]Reference, 0, len(res.Referenced))
		for _, item := range res.Referenced {
			refs = append(refs, Reference{ID: item.ID, Title: item.Title})
		}
		s.send(sess, Message{Type: "references", Content: refs[0].Title, Data: refs})
	}

	answer, err := s.answer(ctx, sess, res.Prompt)
	if err != nil {
		sess.log.Error().Err(err).Msg("chat failed")
		s.send(sess, Message{Type: "error", Content: fmt.Sprintf("Error: %v", err)})
		return
	}

	sess.history.Append(models.RoleUser, query)
	sess.history.Append(models.RoleAssistant, answer)
}

func (s *WSServer) answer(ctx context.Context, sess *session, prompt string) (string, error) {
	if !s.config.Streaming {
		reply, err := s.chat.Chat(ctx, prompt)
		if err != nil {
			return "", err
		}
		s.send(sess, Message{Type: "response", Content: reply.Content, Data: map[string]string{"model": reply.Model}})
		return reply.Content, nil
	}

	stream, err := s.chat.ChatStream(ctx, prompt)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range stream {
		if strings.HasPrefix(chunk, "Error:") {
			return "", errors.New(strings.TrimSpace(strings.TrimPrefix(chunk, "Error:")))
		}
		b.WriteString(chunk)
		s.send(sess, Message{Type: "stream", Content: chunk})
	}
	s.send(sess, Message{Type: "done"})
	return b.String(), nil
}

func (s *WSServer) send(sess *session, msg Message) {
	if err := sess.conn.WriteJSON(msg); err != nil {
		sess.log.Debug().Err(err).Str("type", msg.Type).Msg("error sending message")
	}
}
