package workflow

import (
	"regexp"
	"strconv"
	"strings"
)

// Directives recognized in model output. A directive may be the entire
// response or embedded in surrounding prose; several may co-occur.
const (
	DirectiveConfirmData     = "CONFIRM_DATA"
	DirectiveRequestApproval = "REQUEST_APPROVAL"
	DirectiveStageComplete   = "STAGE_COMPLETE"
)

// Default question texts substituted when a directive carries no question.
const (
	defaultConfirmQuestion  = "Please confirm the collected data is correct"
	defaultApprovalQuestion = "Please approve the proposed action"
)

// Directives is the parsed directive set of one model response.
type Directives struct {
	Confirmations []string
	Approvals     []string
	Complete      bool
	Note          string
}

// NeedsHuman reports whether a confirmation or approval was requested.
func (d Directives) NeedsHuman() bool {
	return len(d.Confirmations) > 0 || len(d.Approvals) > 0
}

// Prompt joins all extracted questions with " | ".
func (d Directives) Prompt() string {
	questions := make([]string, 0, len(d.Confirmations)+len(d.Approvals))
	questions = append(questions, d.Confirmations...)
	questions = append(questions, d.Approvals...)
	return strings.Join(questions, " | ")
}

// AnswerKind is the interpreted intent of a human answer.
type AnswerKind string

const (
	AnswerConfirm AnswerKind = "confirm"
	AnswerReject  AnswerKind = "reject"
	AnswerModify  AnswerKind = "modify"
	AnswerUnclear AnswerKind = "unclear"
)

// AnswerIntent is the classification of one human answer. Modify answers
// additionally carry any loosely-typed parameters found in the text.
type AnswerIntent struct {
	Kind      AnswerKind
	Days      int
	DateRange string
	Raw       string
}

// Summary renders the interpretation for folding into the stage conversation.
func (i AnswerIntent) Summary() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(i.Kind))
	if i.Days > 0 {
		b.WriteString(" days=")
		b.WriteString(strconv.Itoa(i.Days))
	}
	if i.DateRange != "" {
		b.WriteString(" dates=")
		b.WriteString(i.DateRange)
	}
	b.WriteString("] ")
	b.WriteString(i.Raw)
	return b.String()
}

// ResponseClassifier interprets model output and human answers. The default
// implementation is keyword and regex based; hosts may plug in a smarter one.
type ResponseClassifier interface {
	// Directives parses the directive protocol out of a model response.
	Directives(text string) Directives

	// ClassifyAnswer interprets a human answer into an intent.
	ClassifyAnswer(text string) AnswerIntent

	// ShouldFinalize decides, for a response without directives, whether the
	// stage is done or should loop for another round-trip. It is a safety net
	// for models that do not emit directives reliably, not an authority.
	ShouldFinalize(text string) bool
}

var (
	stageCompleteRe = regexp.MustCompile(`(?im)STAGE_COMPLETE\b[:.]?\s*(.*)$`)
	dayCountRe      = regexp.MustCompile(`(?i)(\d+)\s*(?:days?|дн(?:я|ей|и)?\b)`)
	dateRangeRe     = regexp.MustCompile(`\d{1,2}[./]\d{1,2}(?:[./]\d{2,4})?\s*(?:-|–|—|до)\s*\d{1,2}[./]\d{1,2}(?:[./]\d{2,4})?`)
	continuationRe  = regexp.MustCompile(`(?i)\b(let me|i will now|i'll (?:now|next)|next,? i|continuing with|not (?:yet )?(?:done|complete|finished)|remaining steps?|продолжаю|далее я)\b`)
)

// KeywordClassifier is the built-in ResponseClassifier. The word sets are
// exported so hosts can extend them for their user base's language.
type KeywordClassifier struct {
	Affirmative     []string
	Negative        []string
	ImperativeVerbs []string
}

// NewKeywordClassifier returns the classifier with the default English and
// Russian word sets.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		Affirmative: []string{
			"yes", "y", "yep", "yeah", "ok", "okay", "sure", "confirm",
			"confirmed", "correct", "right", "good", "fine", "approved",
			"да", "ага", "угу", "верно", "подтверждаю", "ок", "хорошо",
		},
		Negative: []string{
			"no", "n", "nope", "wrong", "incorrect", "reject", "rejected",
			"cancel", "нет", "не", "неверно", "неправильно", "отмена",
		},
		ImperativeVerbs: []string{
			"change", "set", "make", "use", "update", "replace", "adjust",
			"switch", "extend", "shorten",
			"измени", "поменяй", "сделай", "поставь", "используй", "замени",
		},
	}
}

// Directives parses the directive protocol out of a model response.
func (c *KeywordClassifier) Directives(text string) Directives {
	var d Directives

	for _, line := range strings.Split(text, "\n") {
		if q, ok := extractQuestion(line, DirectiveConfirmData); ok {
			if q == "" {
				q = defaultConfirmQuestion
			}
			d.Confirmations = append(d.Confirmations, q)
		}
		if q, ok := extractQuestion(line, DirectiveRequestApproval); ok {
			if q == "" {
				q = defaultApprovalQuestion
			}
			d.Approvals = append(d.Approvals, q)
		}
	}

	if m := stageCompleteRe.FindStringSubmatch(text); m != nil {
		d.Complete = true
		d.Note = strings.TrimSpace(m[1])
	}

	return d
}

// extractQuestion finds a directive token in a line and returns the trailing
// question text, if any.
func extractQuestion(line, directive string) (string, bool) {
	idx := strings.Index(line, directive)
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len(directive):]
	rest = strings.TrimLeft(rest, ":. \t")
	return strings.TrimSpace(rest), true
}

// ClassifyAnswer interprets a human answer into an intent.
func (c *KeywordClassifier) ClassifyAnswer(text string) AnswerIntent {
	intent := AnswerIntent{Kind: AnswerUnclear, Raw: strings.TrimSpace(text)}
	norm := normalizeAnswer(text)
	if norm == "" {
		return intent
	}

	if containsString(c.Affirmative, norm) {
		intent.Kind = AnswerConfirm
		return intent
	}
	if containsString(c.Negative, norm) {
		intent.Kind = AnswerReject
		return intent
	}

	days, dates := extractModifyParams(text)
	first := firstWord(norm)
	if days > 0 || dates != "" || containsString(c.ImperativeVerbs, first) {
		intent.Kind = AnswerModify
		intent.Days = days
		intent.DateRange = dates
		return intent
	}

	if containsString(c.Affirmative, first) {
		intent.Kind = AnswerConfirm
		return intent
	}
	if containsString(c.Negative, first) {
		intent.Kind = AnswerReject
		return intent
	}

	return intent
}

// ShouldFinalize reports whether a directive-less response reads as done.
// The default leans towards finalizing: stages loop only when the model
// clearly announces more work, otherwise a single round-trip completes them.
func (c *KeywordClassifier) ShouldFinalize(text string) bool {
	return !continuationRe.MatchString(text)
}

func normalizeAnswer(text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	return strings.Trim(norm, ".!?,;: \t")
}

func firstWord(norm string) string {
	fields := strings.FieldsFunc(norm, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' || r == ';' || r == ':'
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func extractModifyParams(text string) (days int, dateRange string) {
	if m := dayCountRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			days = n
		}
	}
	if m := dateRangeRe.FindString(text); m != "" {
		dateRange = strings.Join(strings.Fields(m), " ")
	}
	return days, dateRange
}
