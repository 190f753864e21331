// Package voice validates synthesis voice identifiers and resolves the voice
// for each script line.
package voice

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/book-expert/tts-uploader/internal/core"
	"github.com/book-expert/tts-uploader/internal/script"
)

// MinIDLength is the shortest voice identifier the provider issues.
const MinIDLength = 20

var idRx = regexp.MustCompile(`^[a-zA-Z0-9]{20,}$`)

var (
	// ErrInvalidID is returned for identifiers that cannot be provider voice ids.
	ErrInvalidID = fmt.Errorf("voice: %w: malformed voice id", core.ErrInvalidInput)
	// ErrUnresolved is returned when no voice applies to a line.
	ErrUnresolved = fmt.Errorf("voice: %w: no voice for speaker", core.ErrInvalidInput)
)

// ValidateID checks the format of a voice identifier. It does not check that
// the voice exists in the account.
func ValidateID(id string) error {
	if !idRx.MatchString(id) {
		return fmt.Errorf("%w: %q (want %d+ alphanumeric characters, got %d)",
			ErrInvalidID, id, MinIDLength, len(id))
	}

	return nil
}

// Resolver picks the voice for a line: the line's own voice id first, then
// the speaker mapping, then the default.
type Resolver struct {
	voices       map[string]string
	defaultVoice string
}

// NewResolver validates every configured id up front. defaultVoice may be empty.
func NewResolver(voices map[string]string, defaultVoice string) (*Resolver, error) {
	mapping := make(map[string]string, len(voices))

	for _, speaker := range sortedKeys(voices) {
		id := voices[speaker]

		err := ValidateID(id)
		if err != nil {
			return nil, fmt.Errorf("speaker %q: %w", speaker, err)
		}

		mapping[speaker] = id
	}

	if defaultVoice != "" {
		err := ValidateID(defaultVoice)
		if err != nil {
			return nil, fmt.Errorf("default voice: %w", err)
		}
	}

	return &Resolver{voices: mapping, defaultVoice: defaultVoice}, nil
}

// Resolve returns the voice id for line.
func (r *Resolver) Resolve(line script.Line) (string, error) {
	if line.VoiceID != "" {
		err := ValidateID(line.VoiceID)
		if err != nil {
			return "", fmt.Errorf("row %d: %w", line.Row, err)
		}

		return line.VoiceID, nil
	}

	if id, ok := r.voices[line.Speaker]; ok {
		return id, nil
	}

	if r.defaultVoice != "" {
		return r.defaultVoice, nil
	}

	return "", fmt.Errorf("%w: row %d speaker %q", ErrUnresolved, line.Row, line.Speaker)
}

// Check is the validation verdict for one configured voice.
type Check struct {
	Speaker string `json:"speaker"`
	ID      string `json:"id"`
	Err     error  `json:"-"`
}

// CheckAll validates the format of every id in voices, sorted by speaker.
func CheckAll(voices map[string]string) []Check {
	checks := make([]Check, 0, len(voices))

	for _, speaker := range sortedKeys(voices) {
		checks = append(checks, Check{
			Speaker: speaker,
			ID:      voices[speaker],
			Err:     ValidateID(voices[speaker]),
		})
	}

	return checks
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
