package toolparse

import "testing"

func FuzzParseNoPanic(f *testing.F) {
	seeds := []string{
		"plain text",
		"```json\n{\"action\":\"list\",\"params\":{\"path\":\".\"}}\n```",
		"```tool\n{\"tool_name\":\"read\",\"arguments\":{\"path\":\"a.txt\"}}\n```",
		"```json\n{not-json}\n```",
		"```json\n{\"finished\": true}\n```",
		"```json",
		`{"action":"thought","params":{"nextTool":"finished"}}`,
		"``````json``````",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, input string) {
		res := Parse(input, []string{"move", "list", "read", "write", "append", "delete", "diff", "search", "thought", "ask_human"}, 6)
		if len(res.Commands) > 6 {
			t.Fatalf("command cap violated: %d", len(res.Commands))
		}
	})
}
