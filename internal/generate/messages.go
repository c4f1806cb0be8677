package generate

import "github.com/MrWong99/heychef/pkg/provider/llm"

// Request is everything needed to answer one question.
type Request struct {
	// Recipe is the recipe text, treated as opaque.
	Recipe string

	// History holds previous turns as alternating user and assistant
	// messages, oldest first. Ignored unless UseHistory is set.
	History []llm.Message

	// Question is the transcribed question.
	Question string

	Profile    Profile
	UseHistory bool
}

// BuildMessages returns the ordered conversation sent to the model.
//
// Without history the recipe is embedded in the single user message. With
// history the recipe moves into the system message so that the prior turns
// and the new question can follow as plain messages.
func BuildMessages(req Request) []llm.Message {
	if !req.UseHistory || len(req.History) == 0 {
		return []llm.Message{
			{Role: llm.RoleSystem, Content: req.Profile.SystemPrompt},
			{Role: llm.RoleUser, Content: "Here is my recipe:\n" + req.Recipe + "\n\nQuestion: " + req.Question},
		}
	}

	msgs := make([]llm.Message, 0, len(req.History)+2)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: req.Profile.SystemPrompt + "\n\nHere is my recipe:\n" + req.Recipe,
	})
	for _, m := range req.History {
		if m.Role == llm.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Question})
}
