package server

import (
	"bytes"
	stderrors "errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// reloadTag is inserted into every HTML page served.
const reloadTag = `<script src="` + ReloadScriptURL + `" async></script>`

// handleSite serves the output tree. HTML pages are read whole so the reload
// client can be injected; everything else goes through the file server.
func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	if strings.HasSuffix(r.URL.Path, "/") {
		name = path.Join(name, "index.html")
	}

	if path.Ext(name) != ".html" {
		s.files.ServeHTTP(w, r)
		return
	}

	f, err := s.site.Open(name)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error(r.Context(), err, "cannot open page", "path", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	page, err := io.ReadAll(f)
	if err != nil {
		s.logger.Error(r.Context(), err, "cannot read page", "path", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, name, info.ModTime(), bytes.NewReader(injectReloadScript(page)))
}

// injectReloadScript inserts the reload client before the last </body> end
// tag, or appends it when the page has none. The rest of the page is left
// byte for byte as it was.
func injectReloadScript(page []byte) []byte {
	if bytes.Contains(page, []byte(ReloadScriptURL)) {
		return page
	}

	z := html.NewTokenizer(bytes.NewReader(page))
	offset, insertAt := 0, len(page)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		raw := len(z.Raw())
		if tt == html.EndTagToken {
			if name, _ := z.TagName(); string(name) == "body" {
				insertAt = offset
			}
		}
		offset += raw
	}

	out := make([]byte, 0, len(page)+len(reloadTag))
	out = append(out, page[:insertAt]...)
	out = append(out, reloadTag...)
	out = append(out, page[insertAt:]...)
	return out
}

const reloadScript = `(function () {
  var scheme = location.protocol === "https:" ? "wss:" : "ws:";
  var delay = 500;

  function swap(target) {
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    var found = false;
    for (var i = 0; i < links.length; i++) {
      var url = new URL(links[i].href, location.href);
      if (url.pathname === target) {
        url.searchParams.set("stagehand", Date.now());
        links[i].href = url.toString();
        found = true;
      }
    }
    return found;
  }

  function connect() {
    var ws = new WebSocket(scheme + "//" + location.host + "` + WebSocketURL + `");
    ws.onopen = function () { delay = 500; };
    ws.onmessage = function (event) {
      var msg = JSON.parse(event.data);
      if (msg.type === "css" && swap(msg.target)) {
        return;
      }
      location.reload();
    };
    ws.onclose = function () {
      setTimeout(connect, delay);
      delay = Math.min(delay * 2, 5000);
    };
  }

  connect();
})();
`

func handleReloadScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	_, _ = io.WriteString(w, reloadScript)
}
