package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// JSONParser normalizes a generic JSON webhook body of the shape
// { "from": "...", "body": "..." } into a thread id and message. ThreadID
// is derived from the From field so every inbound message from the same
// sender lands in the same thread.
type JSONParser struct{}

type jsonInbound struct {
	From string `json:"from"`
	Body string `json:"body"`
}

func (JSONParser) Parse(r *http.Request, body []byte) (threadID, channelUserID, message string, err error) {
	var in jsonInbound
	if err := json.Unmarshal(body, &in); err != nil {
		return "", "", "", fmt.Errorf("webhook: invalid json body: %w", err)
	}
	if in.From == "" || in.Body == "" {
		return "", "", "", fmt.Errorf("webhook: from and body are required")
	}
	return in.From, in.From, in.Body, nil
}
