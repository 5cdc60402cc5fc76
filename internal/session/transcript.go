package session

import (
	"strings"

	"github.com/manangulati17/ai-scribe-backend/internal/recognition"
)

// summaryMaxWords is how many words of the final transcript the derived
// summary keeps before truncating.
const summaryMaxWords = 20

// summaryMinChars is the transcript length below which the summary is a
// fixed placeholder.
const summaryMinChars = 50

// briefSummary is the placeholder summary for short or empty transcripts.
const briefSummary = "brief session"

// Accumulator merges recognizer partial and final results into running
// transcript state. A partial result replaces the previous partial (last
// partial wins); a final result is appended space-joined to the final
// transcript and clears the partial.
type Accumulator struct {
	partial string
	finals  []string
}

// Seed restores accumulated state from a recovery record.
func (a *Accumulator) Seed(partial, final string) {
	a.partial = partial
	a.finals = a.finals[:0]
	if final != "" {
		a.finals = append(a.finals, final)
	}
}

// Merge folds one recognition result into the accumulator.
func (a *Accumulator) Merge(result recognition.Result) {
	if result.Final() {
		if text := strings.TrimSpace(result.Text); text != "" {
			a.finals = append(a.finals, text)
		}
		a.partial = ""
		return
	}

	a.partial = result.Text
}

// Partial returns the current revisable hypothesis.
func (a *Accumulator) Partial() string {
	return a.partial
}

// Final returns the committed transcript so far, space-joined.
func (a *Accumulator) Final() string {
	return strings.Join(a.finals, " ")
}

// Summarize derives a short summary from the final transcript. Transcripts
// shorter than 50 characters yield a fixed placeholder; longer transcripts
// are truncated to their first 20 words with a marker when more follow.
// This is a lossy placeholder policy, not a semantic summarizer.
func (a *Accumulator) Summarize() string {
	transcript := a.Final()

	if len(transcript) < summaryMinChars {
		return briefSummary
	}

	words := strings.Fields(transcript)
	if len(words) <= summaryMaxWords {
		return transcript
	}

	return strings.Join(words[:summaryMaxWords], " ") + "..."
}
