// Package apierr define a taxonomia de erros do gateway e a resposta JSON
// padronizada que o cliente recebe.
//
// Nenhuma mensagem de erro do upstream, stack trace ou hostname interno é
// copiada para o corpo da resposta: o cliente só vê status, kind e uma
// mensagem curta.
package apierr

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
)

type Kind string

const (
	RouteNotFound         Kind = "RouteNotFound"
	RateLimitExceeded     Kind = "RateLimitExceeded"
	UpstreamTimeout       Kind = "UpstreamTimeout"
	UpstreamUnreachable   Kind = "UpstreamUnreachable"
	DependencyUnavailable Kind = "DependencyUnavailable"
	Saturated             Kind = "Saturated"
	OriginNotAllowed      Kind = "OriginNotAllowed"
	Internal              Kind = "Internal"
)

var statusByKind = map[Kind]int{
	RouteNotFound:         http.StatusNotFound,
	RateLimitExceeded:     http.StatusTooManyRequests,
	UpstreamTimeout:       http.StatusGatewayTimeout,
	UpstreamUnreachable:   http.StatusBadGateway,
	DependencyUnavailable: http.StatusServiceUnavailable,
	Saturated:             http.StatusServiceUnavailable,
	OriginNotAllowed:      http.StatusForbidden,
	Internal:              http.StatusInternalServerError,
}

var defaultMessage = map[Kind]string{
	RouteNotFound:         "no service is registered for this path",
	RateLimitExceeded:     "too many requests, please try again later",
	UpstreamTimeout:       "the upstream service did not respond in time",
	UpstreamUnreachable:   "the upstream service is unavailable",
	DependencyUnavailable: "a required dependency is unavailable",
	Saturated:             "the gateway is at capacity, please retry",
	OriginNotAllowed:      "origin not allowed",
	Internal:              "internal server error",
}

// Status devolve o status HTTP do kind (500 para kinds desconhecidos).
func (k Kind) Status() int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error é um erro terminal na borda do gateway.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := e.message()
	if e.Err != nil {
		return string(e.Kind) + ": " + msg + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) message() string {
	if e.Message != "" {
		return e.Message
	}
	if m, ok := defaultMessage[e.Kind]; ok {
		return m
	}
	return defaultMessage[Internal]
}

// KindOf extrai o Kind de err (Internal quando err não é *Error).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Body é o corpo JSON de erro devolvido ao cliente.
type Body struct {
	Status    int    `json:"status"`
	Error     Kind   `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Write responde err como JSON. Erros que não são *Error viram 500 genérico.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = New(Internal, "")
	}

	body := Body{
		Status:  e.Kind.Status(),
		Error:   e.Kind,
		Message: e.message(),
	}
	if r != nil {
		body.RequestID = middleware.GetReqID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(body.Status)
	_ = json.NewEncoder(w).Encode(body)
}
