package generation

import (
	"regexp"

	"studybuddy/internal/apperr"
)

// The pre-prompt gate runs before any retrieval or model call. Two
// families: prompt-injection attempts and academic-integrity violations.
var (
	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore\s+(?:all\s+|any\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|rules|messages)`),
		regexp.MustCompile(`(?i)disregard\s+(?:your|the|all)\s+(?:instructions|rules|guidelines|guardrails)`),
		regexp.MustCompile(`(?i)(?:reveal|show|print|display|repeat|leak)\b.{0,40}\bsystem\s+prompt`),
		regexp.MustCompile(`(?i)\bjailbreak\b`),
		regexp.MustCompile(`(?i)pretend\s+(?:you\s+are|to\s+be)\s+(?:not\s+an?\s+ai|unrestricted|uncensored)`),
	}

	cheatingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)answer\s*key`),
		regexp.MustCompile(`(?i)\banswers?\s+(?:to|for)\s+(?:the\s+|my\s+|this\s+)?(?:exam|quiz|test|midterm|final)\b`),
		regexp.MustCompile(`(?i)(?:do|write|complete|finish)\s+my\s+(?:homework|assignment|essay|exam|quiz|test)\s+for\s+me`),
		regexp.MustCompile(`(?i)(?:take|sit)\s+(?:the\s+|my\s+)?(?:exam|quiz|test)\s+for\s+me`),
		regexp.MustCompile(`(?i)help\s+me\s+cheat`),
	}
)

// CheckQuestionSafety rejects questions matching either gate family.
func CheckQuestionSafety(question string) error {
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(question) {
			return &apperr.GuardrailBlockedError{Msg: "question rejected: prompt manipulation attempt"}
		}
	}
	for _, pattern := range cheatingPatterns {
		if pattern.MatchString(question) {
			return &apperr.GuardrailBlockedError{Msg: "question rejected: academic integrity policy"}
		}
	}
	return nil
}
