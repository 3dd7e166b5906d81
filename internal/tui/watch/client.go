package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/channelgw/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Connections   int            `json:"connections"`
	Channels      int            `json:"channels"`
	ByTransport   map[string]int `json:"by_transport"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// sseFrame accumulates the fields of one server-sent event.
type sseFrame struct {
	id   int64
	typ  string
	data string
}

// parseSSELine folds line into f. It returns true when line terminates a
// complete event.
func (f *sseFrame) parseSSELine(line string) bool {
	switch {
	case line == "":
		return f.data != ""
	case strings.HasPrefix(line, "id: "):
		if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
			f.id = id
		}
	case strings.HasPrefix(line, "event: "):
		f.typ = line[7:]
	case strings.HasPrefix(line, "data: "):
		f.data = line[6:]
	}
	return false
}

func (f sseFrame) event() events.Event {
	return events.Event{ID: f.id, Type: f.typ, At: time.Now(), Data: []byte(f.data)}
}

// subscribeToEvents streams /events into ch until the connection drops.
func subscribeToEvents(apiURL, apiKey string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(&statusError{code: resp.StatusCode})
		}

		scanner := bufio.NewScanner(resp.Body)
		var current sseFrame
		for scanner.Scan() {
			if current.parseSSELine(scanner.Text()) {
				ch <- current.event()
				current = sseFrame{}
			}
		}
		return sseDisconnectedMsg{}
	}
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return "event stream refused: HTTP " + strconv.Itoa(e.code)
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
