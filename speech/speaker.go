package speech

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gestureecho/db"
)

// Recorder stores each utterance once it has been played or has failed.
type Recorder interface {
	SaveUtterance(ctx context.Context, u db.Utterance) error
}

type utterance struct {
	gesture string
	phrase  string
}

// Speaker hands phrases to a single worker goroutine. At most one phrase is
// being spoken and at most one waits behind it; a newer phrase replaces the
// waiting one.
type Speaker struct {
	synth    Synthesizer
	recorder Recorder
	logger   *zap.Logger

	mu      sync.Mutex
	last    string
	pending *utterance
	closed  bool

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewSpeaker starts the worker. recorder may be nil.
func NewSpeaker(synth Synthesizer, recorder Recorder, logger *zap.Logger) *Speaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Speaker{
		synth:    synth,
		recorder: recorder,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Say queues phrase unless it equals the last phrase handed to the worker.
// It never blocks and reports whether the phrase was queued.
func (s *Speaker) Say(gesture, phrase string) bool {
	s.mu.Lock()
	if s.closed || phrase == s.last {
		s.mu.Unlock()
		return false
	}
	s.last = phrase
	if s.pending != nil {
		s.logger.Debug("dropping pending phrase", zap.String("phrase", s.pending.phrase))
	}
	s.pending = &utterance{gesture: gesture, phrase: phrase}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Speaker) LastPhrase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Close cancels any phrase in flight and waits for the worker to exit.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *Speaker) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			next := s.pending
			s.pending = nil
			s.mu.Unlock()
			if next == nil || s.ctx.Err() != nil {
				break
			}
			s.speak(next)
		}
	}
}

func (s *Speaker) speak(u *utterance) {
	start := time.Now()
	err := s.synth.Speak(s.ctx, u.phrase)
	if err != nil {
		s.logger.Warn("speech failed", zap.String("phrase", u.phrase), zap.Error(err))
	} else {
		s.logger.Debug("spoke", zap.String("phrase", u.phrase), zap.Duration("took", time.Since(start)))
	}

	if s.recorder == nil {
		return
	}
	entry := db.Utterance{Gesture: u.gesture, Phrase: u.phrase, SpokenAt: start}
	if err != nil {
		entry.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.SaveUtterance(ctx, entry); err != nil {
		s.logger.Warn("failed to record utterance", zap.Error(err))
	}
}
