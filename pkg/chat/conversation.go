package chat

// Message lists are treated as values: every helper returns a new slice
// and never writes through the caller's backing array.

func AddMessage(messages []Message, msg Message) []Message {
	result := make([]Message, len(messages)+1)
	copy(result, messages)
	result[len(messages)] = msg
	return result
}

func GetMessages(messages []Message) []Message {
	result := make([]Message, len(messages))
	copy(result, messages)
	return result
}

func GetLastMessage(messages []Message) (Message, bool) {
	if len(messages) == 0 {
		return Message{}, false
	}
	return messages[len(messages)-1], true
}

// GetInFlightMessage returns the streaming message, which is always the last
func GetInFlightMessage(messages []Message) (Message, bool) {
	last, ok := GetLastMessage(messages)
	if !ok || !last.IsStreaming {
		return Message{}, false
	}
	return last, true
}

func ReplaceLastMessage(messages []Message, msg Message) []Message {
	if len(messages) == 0 {
		return AddMessage(messages, msg)
	}
	result := GetMessages(messages)
	result[len(result)-1] = msg
	return result
}

func FindMessage(messages []Message, id string) (int, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func CountStreaming(messages []Message) int {
	n := 0
	for _, msg := range messages {
		if msg.IsStreaming {
			n++
		}
	}
	return n
}
