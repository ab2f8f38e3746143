package emergency

import "strings"

// Acknowledgement is spoken to the caller whenever an emergency is detected
const Acknowledgement = "I understand this is urgent. I am notifying you immediately."

// DefaultKeywords trigger an emergency alert when found anywhere in an utterance
var DefaultKeywords = []string{"urgent", "emergency", "asap", "accident", "danger"}

// Detector matches utterances against a fixed keyword list
type Detector struct {
	keywords []string
}

func NewDetector(keywords []string) Detector {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			normalized = append(normalized, k)
		}
	}
	return Detector{keywords: normalized}
}

// Detect reports whether text contains any keyword, case-insensitively.
// The zero Detector uses DefaultKeywords.
func (d Detector) Detect(text string) bool {
	keywords := d.keywords
	if keywords == nil {
		keywords = DefaultKeywords
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Detect checks text against DefaultKeywords
func Detect(text string) bool {
	return Detector{}.Detect(text)
}

// AlertBody is the notification text sent to the account owner
func AlertBody(utterance string) string {
	return `Urgent situation detected from caller: "` + utterance + `"`
}
