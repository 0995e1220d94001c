package studio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/book-expert/audio-studio/internal/audio"
	"github.com/book-expert/logger"
)

// Session errors.
var (
	// ErrSessionClosed is returned when the session closed, or its voice was
	// replaced, while an operation was in flight. The result is discarded.
	ErrSessionClosed     = errors.New("editing session closed")
	ErrNothingToResubmit = errors.New("no failed submission to retry")
)

// Snapshot is a frozen copy of the session state a render depends on.
type Snapshot struct {
	Voice              *audio.Track
	Params             EffectParameters
	Background         *BackgroundSelection
	VoiceVolumePercent float64
}

// Input returns the snapshot as a render input.
func (s Snapshot) Input() RenderInput {
	volume := s.VoiceVolumePercent

	return RenderInput{
		Voice:              s.Voice,
		Params:             s.Params,
		Background:         s.Background,
		VoiceVolumePercent: &volume,
	}
}

// SessionDeps are the collaborators a session uses.
type SessionDeps struct {
	Renderer    *Renderer
	Submitter   *Submitter
	Backgrounds BackgroundSource
	Log         *logger.Logger
}

// Session is one editing session. It owns the decoded voice track and the
// live graph. Every suspending operation is tagged with the generation it
// started in; Close and LoadVoice bump the generation so late results are
// dropped instead of applied.
type Session struct {
	id   string
	deps SessionDeps

	mu      sync.Mutex
	graph   *LiveGraph
	voice   *audio.Track
	failed  *Submission
	closed  bool
	userID  string
	lastRcp *Receipt

	generation atomic.Uint64
}

// NewSession opens a session with an idle live graph.
func NewSession(id, userID string, deps SessionDeps) (*Session, error) {
	if deps.Renderer == nil || deps.Submitter == nil || deps.Log == nil {
		return nil, errors.New("session requires a renderer, a submitter and a logger")
	}

	graph, err := NewLiveGraph(deps.Renderer.Options())
	if err != nil {
		return nil, fmt.Errorf("create live graph: %w", err)
	}

	return &Session{id: id, userID: userID, deps: deps, graph: graph}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Graph exposes the live preview graph.
func (s *Session) Graph() *LiveGraph {
	return s.graph
}

// Generation returns the current generation counter.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// LoadVoice decodes an encoded voice buffer and makes it the session voice.
// Any in-flight operation started under the previous voice is invalidated.
func (s *Session) LoadVoice(ctx context.Context, data []byte) error {
	gen, err := s.begin()
	if err != nil {
		return err
	}

	track, decodeErr := audio.DecodeAt(data, s.deps.Renderer.Options().Chain.SampleRate)
	if decodeErr != nil {
		s.deps.Log.Error("Session %s: voice decode failed: %v", s.id, decodeErr)

		return fmt.Errorf("%w: %w", ErrDecodeFailed, decodeErr)
	}

	ctxErr := ctx.Err()
	if ctxErr != nil {
		return ctxErr
	}

	return s.setVoice(gen, track)
}

// SetVoice installs an already decoded voice track.
func (s *Session) SetVoice(track *audio.Track) error {
	gen, err := s.begin()
	if err != nil {
		return err
	}

	return s.setVoice(gen, track)
}

func (s *Session) setVoice(gen uint64, track *audio.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.generation.Load() {
		return ErrSessionClosed
	}

	if track == nil {
		return ErrNoVoiceTrack
	}

	validateErr := track.Validate()
	if validateErr != nil {
		return fmt.Errorf("%w: %w", ErrDecodeFailed, validateErr)
	}

	loadErr := s.graph.LoadVoice(track)
	if loadErr != nil {
		return loadErr
	}

	s.voice = track
	s.failed = nil
	s.generation.Add(1)

	s.deps.Log.Info("Session %s: voice loaded (%d ch, %.2fs)", s.id, track.NumChannels(), track.Seconds())

	return nil
}

// SelectBackground resolves and installs a background in the live graph.
func (s *Session) SelectBackground(ctx context.Context, selection BackgroundSelection) error {
	validateErr := selection.Validate()
	if validateErr != nil {
		return validateErr
	}

	gen, err := s.begin()
	if err != nil {
		return err
	}

	if s.deps.Backgrounds == nil {
		return ErrNoBackgroundSource
	}

	track, loadErr := s.deps.Backgrounds.LoadBackground(ctx, selection)
	if loadErr != nil {
		return fmt.Errorf("%w: background %s: %w", ErrDecodeFailed, selection.Reference(), loadErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.generation.Load() {
		return ErrSessionClosed
	}

	return s.graph.SelectBackground(selection, track)
}

// Snapshot freezes the state a render would use now.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Voice:              s.voice,
		Params:             s.graph.Parameters(),
		Background:         s.graph.Background(),
		VoiceVolumePercent: s.graph.VoiceVolume(),
	}
}

// Render performs an offline mixdown of the current snapshot.
func (s *Session) Render(ctx context.Context) (*RenderedMix, error) {
	gen, err := s.begin()
	if err != nil {
		return nil, err
	}

	snap := s.Snapshot()
	if snap.Voice == nil {
		return nil, ErrNoVoiceTrack
	}

	mix, renderErr := s.deps.Renderer.Render(ctx, snap.Input())
	if renderErr != nil {
		return nil, renderErr
	}

	if s.stale(gen) {
		return nil, ErrSessionClosed
	}

	return mix, nil
}

// Save renders the current snapshot, encodes it and submits it against
// conversationID. Preconditions are checked before any work. A failed
// submission keeps the encoded blob for Resubmit; the live state is never
// touched.
func (s *Session) Save(ctx context.Context, conversationID string) (*Receipt, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrConversationIDRequired
	}

	gen, err := s.begin()
	if err != nil {
		return nil, err
	}

	snap := s.Snapshot()
	if snap.Voice == nil {
		return nil, ErrNoVoiceTrack
	}

	mix, renderErr := s.deps.Renderer.Render(ctx, snap.Input())
	if renderErr != nil {
		s.deps.Log.Error("Session %s: render failed: %v", s.id, renderErr)

		return nil, renderErr
	}

	if s.stale(gen) {
		s.deps.Log.Warn("Session %s: discarding render from stale generation %d", s.id, gen)

		return nil, ErrSessionClosed
	}

	sub := Submission{
		ConversationID:  conversationID,
		UserID:          s.userID,
		Blob:            mix.WAV(),
		Effects:         mix.Params,
		Background:      mix.Background,
		DurationSeconds: mix.Track.Seconds(),
	}

	return s.submit(ctx, gen, sub)
}

// Resubmit retries the last failed submission with the same blob.
func (s *Session) Resubmit(ctx context.Context) (*Receipt, error) {
	gen, err := s.begin()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	failed := s.failed
	s.mu.Unlock()

	if failed == nil {
		return nil, ErrNothingToResubmit
	}

	return s.submit(ctx, gen, *failed)
}

// LastReceipt returns the most recent successful receipt.
func (s *Session) LastReceipt() *Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastRcp
}

// Close stops playback, releases the sources and invalidates in-flight
// work. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.generation.Add(1)
	s.graph.Close()
	s.voice = nil
	s.failed = nil

	s.deps.Log.Info("Session %s closed", s.id)
}

func (s *Session) submit(ctx context.Context, gen uint64, sub Submission) (*Receipt, error) {
	receipt, err := s.deps.Submitter.Submit(ctx, sub)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.generation.Load() {
		s.deps.Log.Warn("Session %s: dropping submission result from stale generation %d", s.id, gen)

		return nil, ErrSessionClosed
	}

	if err != nil {
		s.failed = &sub
		s.deps.Log.Error("Session %s: submission failed: %v", s.id, err)

		return nil, err
	}

	s.failed = nil
	s.lastRcp = receipt
	s.deps.Log.Info("Session %s: saved modification %s as %s", s.id, receipt.ModificationID, receipt.AudioKey)

	return receipt, nil
}

func (s *Session) begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}

	return s.generation.Load(), nil
}

func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed || gen != s.generation.Load()
}
