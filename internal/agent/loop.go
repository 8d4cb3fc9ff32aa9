package agent

import "github.com/MrWong99/omnillm/pkg/provider/llm"

// maxPattern is the longest repeating cycle detectLoop looks for.
const maxPattern = 3

func signature(c llm.ToolCall) string {
	return c.Name + "\x00" + c.Arguments
}

// detectLoop reports whether the last window signatures consist of a
// repeating pattern of length 1 to maxPattern. The pattern must repeat at
// least twice within the window.
func detectLoop(history []string, window int) bool {
	if window < 2 || len(history) < window {
		return false
	}
	recent := history[len(history)-window:]
	for k := 1; k <= maxPattern && 2*k <= window; k++ {
		if window%k != 0 {
			continue
		}
		repeating := true
		for i := k; i < window; i++ {
			if recent[i] != recent[i%k] {
				repeating = false
				break
			}
		}
		if repeating {
			return true
		}
	}
	return false
}
