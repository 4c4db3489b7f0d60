package evidence

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const mirrorTimeout = 30 * time.Second

// DesignReferenceBase is the file stem of a mission's design reference.
const DesignReferenceBase = "design-reference"

// DesignReferenceExtensions lists the accepted image extensions in lookup order.
var DesignReferenceExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Mirror receives a copy of sealed evidence (object storage).
type Mirror interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// DesignSource looks up a mission's design reference on durable storage.
// Implementations return ErrNotFound when the mission has none.
type DesignSource interface {
	DesignReference(ctx context.Context, missionID string) (name string, data []byte, err error)
}

// Store lays out evidence under a root directory.
type Store struct {
	root   string
	mirror Mirror
	design DesignSource
	logger *logging.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMirror copies sealed evidence to m.
func WithMirror(m Mirror) StoreOption {
	return func(s *Store) { s.mirror = m }
}

// WithDesignSource adds a remote lookup for design references.
func WithDesignSource(d DesignSource) StoreOption {
	return func(s *Store) { s.design = d }
}

// WithLogger sets the store's logger.
func WithLogger(l *logging.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store rooted at root. The directory is created if needed.
func NewStore(root string, opts ...StoreOption) (*Store, error) {
	if root == "" {
		return nil, errors.New("evidence root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence root: %w", err)
	}
	s := &Store{root: root, logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the evidence root directory.
func (s *Store) Root() string {
	return s.root
}

// MissionDir returns the directory holding every attempt of a mission.
func (s *Store) MissionDir(missionID string) string {
	return filepath.Join(s.root, missionID)
}

// AttemptDir returns the directory of one attempt.
func (s *Store) AttemptDir(missionID string, attempt int) string {
	return filepath.Join(s.MissionDir(missionID), fmt.Sprintf("attempt-%d", attempt))
}

// Open creates a recorder for a fresh attempt. Opening an attempt that was
// already sealed fails: evidence is write-once.
func (s *Store) Open(ctx context.Context, missionID string, attempt int) (Recorder, error) {
	if missionID == "" || strings.ContainsAny(missionID, `/\`) || missionID == "." || missionID == ".." {
		return nil, fmt.Errorf("invalid mission id %q", missionID)
	}
	if attempt < 1 {
		return nil, fmt.Errorf("invalid attempt %d", attempt)
	}

	dir := s.AttemptDir(missionID, attempt)
	if _, err := os.Stat(filepath.Join(dir, SealFile)); err == nil {
		return nil, fmt.Errorf("attempt %d of %s: %w", attempt, missionID, ErrAlreadySealed)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence folder: %w", err)
	}

	s.logger.Debug(ctx, "evidence folder opened", zap.String("path", dir))
	return &FileRecorder{
		missionID: missionID,
		attempt:   attempt,
		dir:       dir,
		mirror:    s.mirror,
		logger:    s.logger,
		now:       s.now,
	}, nil
}

// Attempts returns the attempt numbers recorded for a mission, ascending.
func (s *Store) Attempts(missionID string) ([]int, error) {
	entries, err := os.ReadDir(s.MissionDir(missionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var attempts []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "attempt-") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "attempt-"))
		if err != nil {
			continue
		}
		attempts = append(attempts, n)
	}
	sort.Ints(attempts)
	return attempts, nil
}

// LatestAttemptDir returns the directory of the highest-numbered attempt.
func (s *Store) LatestAttemptDir(missionID string) (string, error) {
	attempts, err := s.Attempts(missionID)
	if err != nil {
		return "", err
	}
	if len(attempts) == 0 {
		return "", fmt.Errorf("mission %s: %w", missionID, ErrNotFound)
	}
	return s.AttemptDir(missionID, attempts[len(attempts)-1]), nil
}

// DesignReference finds the mission's design reference, first in the
// mission directory and then on the remote design source.
func (s *Store) DesignReference(ctx context.Context, missionID string) (string, []byte, error) {
	for _, ext := range DesignReferenceExtensions {
		name := DesignReferenceBase + ext
		data, err := os.ReadFile(filepath.Join(s.MissionDir(missionID), name)) // #nosec G304 -- fixed names under the evidence root
		if err == nil {
			return name, data, nil
		}
		if !os.IsNotExist(err) {
			return "", nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}
	if s.design != nil {
		return s.design.DesignReference(ctx, missionID)
	}
	return "", nil, ErrNotFound
}

// ReadEvents returns the flight recorder of a sealed attempt.
func ReadEvents(attemptDir string) ([]Event, error) {
	data, err := os.ReadFile(filepath.Join(attemptDir, FlightRecorderFile)) // #nosec G304 -- fixed name
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotSealed
		}
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode flight recorder: %w", err)
	}
	return events, nil
}

// ReadVerdict returns the verdict document of an attempt.
func ReadVerdict(attemptDir string) (*Verdict, error) {
	for _, name := range []string{AuditPassFile, AuditFailFile} {
		data, err := os.ReadFile(filepath.Join(attemptDir, name)) // #nosec G304 -- fixed names
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		var v Verdict
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		return &v, nil
	}
	return nil, ErrNoVerdict
}

// ReadSeal returns the seal of an attempt.
func ReadSeal(attemptDir string) (*Seal, error) {
	data, err := os.ReadFile(filepath.Join(attemptDir, SealFile)) // #nosec G304 -- fixed name
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotSealed
		}
		return nil, err
	}
	var seal Seal
	if err := json.Unmarshal(data, &seal); err != nil {
		return nil, fmt.Errorf("failed to decode seal: %w", err)
	}
	return &seal, nil
}

// VerifySeal recomputes the digests of a sealed attempt and compares them
// with seal.json.
func VerifySeal(attemptDir string) (*Seal, error) {
	seal, err := ReadSeal(attemptDir)
	if err != nil {
		return nil, err
	}
	if len(seal.Digests) == 0 {
		return nil, fmt.Errorf("%w: seal lists no files", ErrTampered)
	}
	for name, want := range seal.Digests {
		if filepath.Base(name) != name {
			return nil, fmt.Errorf("%w: unexpected entry %q", ErrTampered, name)
		}
		data, err := os.ReadFile(filepath.Join(attemptDir, name)) // #nosec G304 -- base names only
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTampered, name, err)
		}
		sum := blake3.Sum256(data)
		if hex.EncodeToString(sum[:]) != want {
			return nil, fmt.Errorf("%w: %s", ErrTampered, name)
		}
	}
	return seal, nil
}
