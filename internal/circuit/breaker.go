// Package circuit implements a classic closed/open/half-open circuit
// breaker wrapping sink Send calls, so a struggling Kafka or
// Elasticsearch endpoint stops being hammered by every worker.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

type Stats struct {
	State       State
	Failures    int64
	Successes   int64
	Requests    int64
	LastFailure time.Time
	LastSuccess time.Time
}

// Breaker wraps calls to a sink's Send method. In the closed state each
// failure raises a failure count and each success lowers it by one; the
// breaker trips to open once the count reaches FailureThreshold, then
// probes again after Timeout via a bounded number of half-open calls.
type Breaker struct {
	config Config
	logger *logrus.Logger

	mu            sync.Mutex
	state         State
	failures      int64
	successes     int64
	requests      int64
	lastFailure   time.Time
	lastSuccess   time.Time
	nextRetryTime time.Time
	halfOpenCalls int
	halfOpenOK    int
}

func NewBreaker(config Config, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 5
	}
	return &Breaker{config: config, logger: logger, state: StateClosed}
}

// Execute runs fn under the breaker's protection. It returns an error
// without calling fn if the breaker is open and the retry window has
// not elapsed.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.requests++

	if b.state == StateOpen {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		b.setState(StateHalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenOK = 0
	}

	if b.state == StateHalfOpen {
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is half-open (max calls reached)", b.config.Name)
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == StateHalfOpen {
			b.trip()
		} else if b.failures >= int64(b.config.FailureThreshold) {
			b.trip()
		}
		return err
	}

	b.successes++
	b.lastSuccess = time.Now()
	if b.state == StateHalfOpen {
		b.halfOpenOK++
		if b.halfOpenOK >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failures = 0
		}
	} else if b.failures > 0 {
		b.failures--
	}
	return nil
}

func (b *Breaker) trip() {
	if b.state == StateOpen {
		return
	}
	b.setState(StateOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{"breaker": b.config.Name, "failures": b.failures}).Warn("circuit breaker opened")
	}
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{"breaker": b.config.Name, "state": s.String()}).Info("circuit breaker state changed")
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		Requests:    b.requests,
		LastFailure: b.lastFailure,
		LastSuccess: b.lastSuccess,
	}
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenOK = 0
}
