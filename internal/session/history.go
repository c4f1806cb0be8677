package session

import "github.com/MrWong99/heychef/pkg/provider/llm"

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly four characters per token.
const charsPerToken = 4

func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

// historyMessages converts turns into alternating user and assistant
// messages. With budget > 0 only the most recent turns whose estimated size
// fits the budget are kept; whole turns are dropped, never half of one.
func historyMessages(turns []Turn, budget int) []llm.Message {
	first := 0
	if budget > 0 {
		used := 0
		first = len(turns)
		for i := len(turns) - 1; i >= 0; i-- {
			t := estimateTokens(llm.Message{Role: llm.RoleUser, Content: turns[i].Question}) +
				estimateTokens(llm.Message{Role: llm.RoleAssistant, Content: turns[i].Answer})
			if used+t > budget {
				break
			}
			used += t
			first = i
		}
	}

	msgs := make([]llm.Message, 0, 2*(len(turns)-first))
	for _, t := range turns[first:] {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.Question},
			llm.Message{Role: llm.RoleAssistant, Content: t.Answer},
		)
	}
	return msgs
}
