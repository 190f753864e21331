// Package script loads and validates the narration script: the ordered list of
// lines that are synthesized and uploaded one by one.
package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/tts-uploader/internal/core"
)

// MaxTextLength is the longest line, in characters, the synthesis provider accepts.
const MaxTextLength = 5000

const (
	invalidCharReplacement = "_"
	nameSeparator          = "_"
)

const (
	errFmtTextRequired     = "line %d: text is required"
	errFmtFileNameRequired = "line %d: fileName is required"
	errFmtSpeakerRequired  = "line %d: speaker is required"
	errFmtTextTooLong      = "line %d: text is too long (%d characters, max %d)"
)

var (
	// ErrInvalidScript wraps every validation problem.
	ErrInvalidScript = fmt.Errorf("script: %w", core.ErrInvalidInput)
	// ErrEmptyScript is returned when a script has no lines.
	ErrEmptyScript = errors.New("script has no lines")
)

// Line is one unit of narration.
type Line struct {
	Row      int    `json:"row"`
	Speaker  string `json:"speaker"`
	FileName string `json:"fileName"`
	Text     string `json:"text"`
	// VoiceID optionally pins the voice for this line.
	VoiceID string `json:"voiceId,omitempty"`
}

// Parse decodes and validates a JSON array of lines.
func Parse(data []byte) ([]Line, error) {
	var lines []Line

	err := json.Unmarshal(data, &lines)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal script: %w", ErrInvalidScript, err)
	}

	err = Validate(lines)
	if err != nil {
		return nil, err
	}

	return lines, nil
}

// Load reads a script file from disk.
func Load(path string) ([]Line, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}

	return Parse(data)
}

// Validate reports every problem in lines at once. Indices in messages are
// zero-based positions in the script.
func Validate(lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidScript, ErrEmptyScript)
	}

	var problems []error

	for index, line := range lines {
		if strings.TrimSpace(line.Text) == "" {
			problems = append(problems, fmt.Errorf(errFmtTextRequired, index))
		}

		if strings.TrimSpace(line.FileName) == "" {
			problems = append(problems, fmt.Errorf(errFmtFileNameRequired, index))
		}

		if strings.TrimSpace(line.Speaker) == "" {
			problems = append(problems, fmt.Errorf(errFmtSpeakerRequired, index))
		}

		if length := utf8.RuneCountInString(line.Text); length > MaxTextLength {
			problems = append(problems, fmt.Errorf(errFmtTextTooLong, index, length, MaxTextLength))
		}
	}

	if len(problems) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrInvalidScript, errors.Join(problems...))
}

// TotalCharacters sums the text length of every line, which is what the
// synthesis provider bills by.
func TotalCharacters(lines []Line) int {
	total := 0

	for _, line := range lines {
		total += utf8.RuneCountInString(line.Text)
	}

	return total
}

// OutputName builds the output name {prefix}_{fileName}. The prefix is
// optional. Characters that are unsafe in file names or public ids are replaced.
func OutputName(prefix, fileName string) string {
	name := SanitizeName(fileName)
	if prefix == "" {
		return name
	}

	return SanitizeName(prefix) + nameSeparator + name
}

// SanitizeName replaces characters that are invalid in most filesystems and
// in media host public ids.
func SanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		"&", invalidCharReplacement,
		"#", invalidCharReplacement,
		" ", invalidCharReplacement,
	)

	return replacer.Replace(strings.TrimSpace(name))
}
