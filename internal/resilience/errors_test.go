package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid input: missing field"), false},
		{"explicit transient", NewTransientError(errors.New("server overloaded"), 503), true},
		{"wrapped transient", eris.Wrap(NewTransientError(errors.New("rate limited"), 429), "places: search"), true},
		{"permanent wins", NewPermanentError(NewTransientError(errors.New("bad credentials"), 503)), false},
		{"connection reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"broken pipe text", errors.New("write: broken pipe"), true},
		{"tls handshake text", errors.New("net/http: TLS handshake timeout"), true},
		{"idle connection text", errors.New("http: server closed idle connection"), true},
		{"status coder 503", fmt.Errorf("hunter: %w", statusErr(503)), true},
		{"status coder 403", fmt.Errorf("hunter: %w", statusErr(403)), false},
		{"serialization failure", eris.Wrap(&pgconn.PgError{Code: "40001"}, "importer: insert chunk"), true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", eris.Wrap(&pgconn.PgError{Code: "23505"}, "importer: insert chunk"), false},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false},
		{"bad text representation", &pgconn.PgError{Code: "22P02"}, false},
		{"bad password", &pgconn.PgError{Code: "28P01"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 409, 422, 501} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestIsTransientSQLState_Malformed(t *testing.T) {
	assert.False(t, IsTransientSQLState(""))
	assert.False(t, IsTransientSQLState("4"))
}

func TestMarkerErrors_KeepCause(t *testing.T) {
	cause := errors.New("root cause")

	te := NewTransientError(cause, 500)
	assert.ErrorIs(t, te, cause)
	assert.Equal(t, "root cause", te.Error())
	assert.Equal(t, 500, te.StatusCode)

	pe := NewPermanentError(cause)
	assert.ErrorIs(t, pe, cause)
	assert.Equal(t, "root cause", pe.Error())
}

func TestNewUnitError(t *testing.T) {
	ue := NewUnitError("enrich", "42", eris.Wrap(&pgconn.PgError{Code: "23505", Message: "duplicate key"}, "enrich: save lead"))
	assert.Equal(t, "enrich", ue.Stage)
	assert.Equal(t, "42", ue.Unit)
	assert.Equal(t, ErrorTypePermanent, ue.ErrorType)
	assert.Contains(t, ue.Error, "enrich: save lead")
	assert.False(t, ue.FailedAt.IsZero())

	assert.Equal(t, ErrorTypeTransient, ClassifyError(NewTransientError(errors.New("503"), 503)))
}
