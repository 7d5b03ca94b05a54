package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type tailOptions struct {
	URL   string
	Token string
	Level string
	Raw   bool
}

func tailCmd() *cobra.Command {
	var o tailOptions

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream the daemon log over the admin log feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.Token == "" {
				o.Token = os.Getenv("LOGFEED_TOKEN")
			}
			if o.Token == "" {
				return fmt.Errorf("an access token is required (--token or LOGFEED_TOKEN)")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return tail(ctx, o, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&o.URL, "url", "ws://127.0.0.1:8055/websocket/logs", "log feed websocket url")
	cmd.Flags().StringVar(&o.Token, "token", "", "access token of an administrator")
	cmd.Flags().StringVar(&o.Level, "level", "info", "minimum level: debug|info|warn|error")
	cmd.Flags().BoolVar(&o.Raw, "raw", false, "print records as JSON")
	return cmd
}

type feedMessage struct {
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data"`
	Error  *struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Message  string `json:"message"`
	} `json:"error"`
}

// tail subscribes to the log feed and prints records until ctx is done or
// the server closes the connection.
func tail(ctx context.Context, o tailOptions, out io.Writer) error {
	header := http.Header{"Authorization": {"Bearer " + o.Token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, o.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (%s)", o.URL, err, resp.Status)
		}
		return fmt.Errorf("dial %s: %w", o.URL, err)
	}
	defer conn.Close()

	// a failed write still leaves the server's rejection, if any, to read
	subErr := conn.WriteJSON(map[string]string{"type": "subscribe", "log_level": o.Level})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if subErr != nil {
				return fmt.Errorf("subscribe: %w", subErr)
			}
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var m feedMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		switch {
		case m.Status == "error" && m.Error != nil:
			err := fmt.Errorf("%s: %s (%s)", m.Error.Code, m.Error.Message, m.Error.Category)
			switch m.Error.Category {
			case "capacity", "authentication", "authorization":
				return err
			}
			fmt.Fprintln(os.Stderr, err)
		case m.Type == "logs":
			if o.Raw {
				b, _ := json.Marshal(m.Data)
				fmt.Fprintln(out, string(b))
				continue
			}
			fmt.Fprintln(out, formatRecord(m.Data))
		}
	}
}

// formatRecord renders a record as "time LEVEL msg key=value ...".
func formatRecord(d map[string]any) string {
	var b strings.Builder
	if ts, ok := d["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ts = t.Local().Format("15:04:05.000")
		}
		b.WriteString(ts)
		b.WriteByte(' ')
	}
	level, _ := d["level"].(string)
	fmt.Fprintf(&b, "%-5s %v", strings.ToUpper(level), d["msg"])

	keys := make([]string, 0, len(d))
	for k := range d {
		switch k {
		case "time", "level", "msg":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, d[k])
	}
	return b.String()
}
