package server

import (
	"context"
	"path"
	"strings"

	"github.com/conneroisu/stagehand/internal/task"
	"github.com/conneroisu/stagehand/internal/websocket"
)

// TaskSucceeded tells the browsers about a successful rerun. Stylesheets are
// swapped in place; any other task reloads the page.
func (s *Server) TaskSucceeded(result task.Result) {
	for _, msg := range s.messagesFor(result) {
		s.hub.Broadcast(msg)
	}
	s.logger.Debug(context.Background(), "browsers notified", "task", result.Task, "clients", s.hub.ClientCount())
}

func (s *Server) messagesFor(result task.Result) []websocket.UpdateMessage {
	if result.Task == task.Styles && len(result.Outputs) > 0 {
		messages := make([]websocket.UpdateMessage, 0, len(result.Outputs))
		for _, out := range result.Outputs {
			if path.Ext(out) != ".css" {
				return []websocket.UpdateMessage{{Type: websocket.MessageReload, Task: result.Task}}
			}
			messages = append(messages, websocket.UpdateMessage{
				Type:   websocket.MessageCSS,
				Target: s.urlPath(out),
				Task:   result.Task,
			})
		}
		return messages
	}
	return []websocket.UpdateMessage{{Type: websocket.MessageReload, Task: result.Task}}
}

// urlPath maps an output file to the URL it is served under.
func (s *Server) urlPath(output string) string {
	rel := strings.TrimPrefix(output, strings.TrimSuffix(s.opts.Output, "/")+"/")
	return "/" + rel
}
