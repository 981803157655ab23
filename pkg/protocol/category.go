package protocol

import "strings"

// QuestionCategory is the closed classification tag set produced by the
// language-understanding service. The router never infers it from message
// structure; it only dispatches on it.
type QuestionCategory string

const (
	CategoryChitchat   QuestionCategory = "chitchat"
	CategoryLocalFAQ   QuestionCategory = "local_faq"
	CategoryExpert     QuestionCategory = "expert_question"
	CategoryTicketTask QuestionCategory = "ticket_task"
	CategoryGeneral    QuestionCategory = "general_question"
	CategoryMixed      QuestionCategory = "mixed_question_and_task"
)

// ParseCategory maps a raw classification label to a category. Unrecognized
// labels fall back to ticket_task: that branch always ends with a human
// follow-up, so it is the safe default for malformed output.
func ParseCategory(raw string) QuestionCategory {
	c := QuestionCategory(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CategoryChitchat, CategoryLocalFAQ, CategoryExpert,
		CategoryTicketTask, CategoryGeneral, CategoryMixed:
		return c
	}
	return CategoryTicketTask
}
