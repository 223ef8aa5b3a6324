package policy

import (
	"regexp"
	"strings"
)

// HandoffDecision is the result of scanning a customer message for a request
// to speak with a person.
type HandoffDecision struct {
	Requested bool
	Reason    string
}

var (
	handoffPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(talk|speak|chat)\s+(to|with)\s+(a\s+|an\s+|the\s+)?(human|person|agent|representative|someone|real person|operator)\b`),
		regexp.MustCompile(`(?i)\b(human|live)\s+(agent|support|operator)\b`),
		regexp.MustCompile(`(?i)\bcustomer\s+(service|support)\s+(agent|representative)\b`),
		regexp.MustCompile(`(?i)(gặp|nói chuyện với|kết nối với)\s+(nhân viên|tư vấn viên|người thật|người hỗ trợ)`),
	}
	frustrationKeywords = []string{
		"this is useless", "not helpful", "you don't understand", "doesn't help",
		"refund", "cancel my", "complaint", "escalate",
		"không hiểu", "vô ích", "khiếu nại", "hoàn tiền",
	}
)

// DetectHandoff flags messages that ask for a human or show enough friction
// that the bot should offer one.
func DetectHandoff(text string) HandoffDecision {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return HandoffDecision{}
	}
	for _, re := range handoffPatterns {
		if re.MatchString(in) {
			return HandoffDecision{Requested: true, Reason: "explicit_request"}
		}
	}
	for _, kw := range frustrationKeywords {
		if strings.Contains(in, kw) {
			return HandoffDecision{Requested: true, Reason: "friction"}
		}
	}
	return HandoffDecision{}
}
