// Package scanner runs the host check-in loop: each QR token read is validated by the API, and
// a rejection never stops the loop.
package scanner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
	"github.com/alanmathew190/EventManagementSystem/internal/event/domain"
)

// FallbackMessage is shown when the server rejects a token without saying why.
const FallbackMessage = "Invalid or already scanned QR"

// Checker validates a token with the API. *event.Client implements it.
type Checker interface {
	ScanQR(ctx context.Context, token string) (domain.ScanResult, error)
}

// Outcome is the result of one scan. Err is non-nil for a rejected or failed scan; Ignored is
// set for a duplicate read inside the de-duplication window.
type Outcome struct {
	Token   string
	Result  domain.ScanResult
	Ignored bool
	Err     error
	Message string
}

// OK reports a successful check-in.
func (o Outcome) OK() bool {
	return !o.Ignored && o.Err == nil
}

// Stats counts outcomes since the scanner was created.
type Stats struct {
	Checked  int
	Rejected int
	Ignored  int
}

// Scanner is safe for concurrent use.
type Scanner struct {
	api    Checker
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	last   string
	lastAt time.Time
	stats  Stats
}

// New returns a Scanner that ignores the same token read again within window. A zero window
// disables de-duplication.
func New(api Checker, window time.Duration) *Scanner {
	return &Scanner{api: api, window: window, now: time.Now}
}

// Scan validates one token.
func (s *Scanner) Scan(ctx context.Context, token string) Outcome {
	token = strings.TrimSpace(token)
	if token == "" {
		err := apiclient.Validation("QR token is empty")
		s.count(func(st *Stats) { st.Rejected++ })
		return Outcome{Err: err, Message: err.Error()}
	}
	readAt := s.now()
	if s.duplicate(token, readAt) {
		s.count(func(st *Stats) { st.Ignored++ })
		return Outcome{Token: token, Ignored: true}
	}

	res, err := s.api.ScanQR(ctx, token)
	var apiErr *apiclient.APIError
	if err == nil || errors.As(err, &apiErr) {
		s.remember(token, readAt)
	}
	if err != nil {
		s.count(func(st *Stats) { st.Rejected++ })
		return Outcome{Token: token, Err: err, Message: rejectionMessage(err)}
	}
	s.count(func(st *Stats) { st.Checked++ })
	msg := res.Message
	if msg == "" {
		msg = "Attendance marked"
	}
	return Outcome{Token: token, Result: res, Message: msg}
}

// Run scans one token per line from r until EOF or ctx is done, reporting each outcome to fn.
// Blank lines are skipped.
func (s *Scanner) Run(ctx context.Context, r io.Reader, fn func(Outcome)) error {
	lines := bufio.NewScanner(r)
	for lines.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}
		fn(s.Scan(ctx, line))
	}
	return lines.Err()
}

// Stats returns a snapshot of the counters.
func (s *Scanner) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scanner) duplicate(token string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window > 0 && token == s.last && at.Sub(s.lastAt) < s.window
}

// remember arms the de-duplication window. Only reads the server answered count, so a retry
// after a transport failure is sent again.
func (s *Scanner) remember(token string, at time.Time) {
	s.mu.Lock()
	s.last, s.lastAt = token, at
	s.mu.Unlock()
}

func (s *Scanner) count(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

func rejectionMessage(err error) string {
	if msg := apiclient.MessageOf(err); msg != "" {
		return msg
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status < 500 {
		return FallbackMessage
	}
	return err.Error()
}
