package evidence

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Jarvis2021/gantry-sub000/internal/logging"
	"github.com/Jarvis2021/gantry-sub000/internal/manifest"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Recorder captures the evidence of one build attempt.
type Recorder interface {
	// Log appends an event. It is a no-op once the recorder is sealed.
	Log(event, details string)

	// SaveManifest writes the manifest snapshot.
	SaveManifest(m *manifest.Manifest) error

	// Seal writes the verdict and event log, records digests and makes
	// the attempt read-only. It succeeds at most once.
	Seal(v Verdict) error

	// Path returns the attempt directory.
	Path() string
}

// FileRecorder is a Recorder backed by an attempt directory.
type FileRecorder struct {
	missionID string
	attempt   int
	dir       string
	mirror    Mirror
	logger    *logging.Logger
	now       func() time.Time

	mu     sync.Mutex
	events []Event
	sealed bool
}

var _ Recorder = (*FileRecorder)(nil)

// Path returns the attempt directory.
func (r *FileRecorder) Path() string {
	return r.dir
}

// Log appends an event to the flight recorder.
func (r *FileRecorder) Log(event, details string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.events = append(r.events, Event{Timestamp: r.now().UTC(), Event: event, Details: details})
}

// Events returns a copy of the events recorded so far.
func (r *FileRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Sealed reports whether Seal has completed.
func (r *FileRecorder) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// SaveManifest writes manifest.json and logs MANIFEST_SAVED. It returns
// ErrAlreadySealed once Seal has started; the write holds the lock so it
// either lands before the digests are taken or not at all.
func (r *FileRecorder) SaveManifest(m *manifest.Manifest) error {
	path := filepath.Join(r.dir, ManifestFile)

	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return ErrAlreadySealed
	}
	err := writeJSON(path, m)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	r.Log(EventManifestSaved, path)
	return nil
}

// Seal concludes the attempt. The verdict, the flight recorder and the
// digest list are written, then every file is made read-only.
func (r *FileRecorder) Seal(v Verdict) error {
	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return ErrAlreadySealed
	}
	r.sealed = true
	events := append([]Event(nil), r.events...)
	r.mu.Unlock()

	if v.Timestamp.IsZero() {
		v.Timestamp = r.now().UTC()
	}

	if err := writeJSON(filepath.Join(r.dir, v.FileName()), v); err != nil {
		return fmt.Errorf("failed to write verdict: %w", err)
	}
	if err := writeJSON(filepath.Join(r.dir, FlightRecorderFile), events); err != nil {
		return fmt.Errorf("failed to write flight recorder: %w", err)
	}

	files := []string{ManifestFile, v.FileName(), FlightRecorderFile}
	seal := Seal{
		MissionID: r.missionID,
		Attempt:   r.attempt,
		SealedAt:  r.now().UTC(),
		Algorithm: "blake3-256",
		Verdict:   v.Verdict,
		Digests:   make(map[string]string, len(files)),
	}
	for _, name := range files {
		digest, err := digestFile(filepath.Join(r.dir, name))
		if os.IsNotExist(err) {
			// A build that failed before the snapshot still seals.
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to digest %s: %w", name, err)
		}
		seal.Digests[name] = digest
	}
	if err := writeJSON(filepath.Join(r.dir, SealFile), seal); err != nil {
		return fmt.Errorf("failed to write seal: %w", err)
	}

	for _, name := range append(files, SealFile) {
		path := filepath.Join(r.dir, name)
		if err := os.Chmod(path, 0o444); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to lock %s: %w", name, err)
		}
	}

	r.logger.Info(context.Background(), "evidence sealed",
		zap.String("mission.id", r.missionID),
		zap.Int("mission.attempt", r.attempt),
		zap.String("verdict", string(v.Verdict)),
		zap.String("path", r.dir),
	)

	if r.mirror != nil {
		r.mirrorFiles(append(files, SealFile))
	}
	return nil
}

// mirrorFiles copies sealed files to the mirror. Failures only warn: the
// local copy is authoritative.
func (r *FileRecorder) mirrorFiles(files []string) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(r.dir, name)) // #nosec G304 -- path built from fixed names
		if err != nil {
			continue
		}
		key := ObjectKey(r.missionID, r.attempt, name)
		if err := r.mirror.Put(ctx, key, data, "application/json"); err != nil {
			r.logger.Warn(ctx, "evidence mirror failed", zap.String("key", key), zap.Error(err))
			return
		}
	}
}

// ObjectKey returns the mirror key for an evidence file.
func ObjectKey(missionID string, attempt int, name string) string {
	return fmt.Sprintf("missions/%s/attempt-%d/%s", missionID, attempt, name)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644) // #nosec G306 -- locked to 0444 when sealed
}

func digestFile(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path built from fixed names
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
