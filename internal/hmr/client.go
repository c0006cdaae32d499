package hmr

import (
	"fmt"
	"strings"
)

// clientScript is the snippet injected at the top of each entry bundle in
// development mode. It opens a live-reload connection and reacts to the two
// notification messages: stylesheets are swapped in place for reload-css,
// anything else falls back to a full page reload.
const clientScript = `(() => {
  if (typeof window === "undefined" || window.__DEVLOOP_HMR__) return;
  window.__DEVLOOP_HMR__ = true;
  const connect = () => {
    const ws = new WebSocket("%SCHEME%://%HOST%:%PORT%", "%SUBPROTOCOL%");
    ws.onmessage = (event) => {
      if (event.data === "reload-css") {
        for (const link of document.querySelectorAll('link[rel="stylesheet"]')) {
          const url = new URL(link.href);
          url.searchParams.set("v", Date.now().toString());
          link.href = url.toString();
        }
        return;
      }
      if (event.data === "reload-js") {
        window.location.reload();
      }
    };
    ws.onclose = () => setTimeout(connect, 1000);
  };
  connect();
})();`

// ClientScript renders the live-reload snippet for a server at host:port.
// secure selects the wss scheme for HTTPS deployments.
func ClientScript(host string, port int, secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	replacer := strings.NewReplacer(
		"%SCHEME%", scheme,
		"%HOST%", host,
		"%PORT%", fmt.Sprintf("%d", port),
		"%SUBPROTOCOL%", Subprotocol,
	)
	return replacer.Replace(clientScript)
}
