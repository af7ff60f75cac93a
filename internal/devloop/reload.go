package devloop

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// ReloadPath is the websocket endpoint of the reload hub.
const ReloadPath = "/__reload"

// ReloadScript renders the client that reconnects to the reload endpoint
// and reloads the page on every reload message.
func ReloadScript(endpoint string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		url, err := templ.JSONString(endpoint)
		if err != nil {
			return fmt.Errorf("encoding reload endpoint: %w", err)
		}
		_, err = fmt.Fprintf(w, `<script data-assetstage-reload>
(function () {
  var path = %s, delay = 500;
  function connect() {
    var scheme = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(scheme + location.host + path);
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (e) {
      var msg = JSON.parse(e.data);
      if (msg.type === %q) { location.reload(); }
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 5000);
    };
  }
  connect();
})();
</script>
`, url, MessageReload)
		return err
	})
}

// InjectReload inserts the rendered script before the last </body>, or
// appends it when the document has none.
func InjectReload(ctx context.Context, page []byte, script templ.Component) ([]byte, error) {
	var snippet bytes.Buffer
	if err := script.Render(ctx, &snippet); err != nil {
		return nil, err
	}

	idx := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if idx < 0 {
		return append(append([]byte{}, page...), snippet.Bytes()...), nil
	}
	out := make([]byte, 0, len(page)+snippet.Len())
	out = append(out, page[:idx]...)
	out = append(out, snippet.Bytes()...)
	out = append(out, page[idx:]...)
	return out, nil
}
