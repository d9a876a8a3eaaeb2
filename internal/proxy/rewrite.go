// Package proxy implements the authenticating reverse proxy that fronts
// every agent's HTTP surface (spec §4.7, C10): one-time-code login,
// signed per-agent cookies, path-prefixed routing, and the HTML/cookie
// rewriting needed to run an unmodified single-page app under
// /agents/<agent_id>/ without it ever knowing about the prefix.
package proxy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corralhq/corral/internal/ids"
)

var (
	cookiePathPattern  = regexp.MustCompile(`(?i)(;\s*path\s*=\s*)([^;]*)`)
	absolutePathAttrRe = regexp.MustCompile(`(?i)((?:href|src|action|formaction)\s*=\s*)(["'])(/)`)
)

// agentPrefix returns the path prefix every proxied request/response for
// this agent is rooted at.
func agentPrefix(agentID ids.AgentId) string {
	return "/agents/" + string(agentID)
}

// GenerateBootstrapHTML is served for an authenticated visit to an
// agent's root page that carries no Service Worker cookie yet: it installs the Service Worker that will
// transparently prefix every subsequent same-origin fetch, then reloads.
func GenerateBootstrapHTML(agentID ids.AgentId) string {
	prefix := agentPrefix(agentID)
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Loading...</title></head>
<body>
<p>Loading...</p>
<script>
const PREFIX = '%s/';
const SW_URL = PREFIX + '__sw.js';

async function boot() {
  const reg = await navigator.serviceWorker.register(SW_URL, { scope: PREFIX });
  const sw = reg.installing || reg.waiting || reg.active;

  function onActivated() {
    document.cookie = 'sw_installed_%s=1; path=' + PREFIX;
    location.reload();
  }

  if (sw.state === 'activated') {
    onActivated();
    return;
  }

  sw.addEventListener('statechange', () => {
    if (sw.state === 'activated') onActivated();
  });
}

boot().catch(err => {
  document.body.textContent = 'Failed to initialize: ' + err.message;
});
</script>
</body></html>`, prefix, agentID)
}

// GenerateServiceWorkerJS is served at /agents/<agent_id>/__sw.js. It
// intercepts every same-origin fetch the page issues and prefixes its
// path, so the proxied app never needs to know it is mounted under a
// prefix (spec §9 "The WebSocket shim assumes a single origin").
func GenerateServiceWorkerJS(agentID ids.AgentId) string {
	prefix := agentPrefix(agentID)
	return fmt.Sprintf(`
const PREFIX = '%s';

self.addEventListener('install', () => self.skipWaiting());
self.addEventListener('activate', (e) => e.waitUntil(self.clients.claim()));

self.addEventListener('fetch', (event) => {
  const url = new URL(event.request.url);

  if (url.origin !== location.origin) return;

  if (url.pathname.startsWith(PREFIX + '/') || url.pathname === PREFIX) return;

  if (url.pathname.endsWith('__sw.js')) return;

  url.pathname = PREFIX + url.pathname;

  const init = {
    method: event.request.method,
    headers: event.request.headers,
    mode: event.request.mode,
    credentials: event.request.credentials,
    redirect: 'manual',
  };

  if (!['GET', 'HEAD'].includes(event.request.method)) {
    init.body = event.request.body;
    init.duplex = 'half';
  }

  event.respondWith(fetch(new Request(url.toString(), init)));
});
`, prefix)
}

// GenerateWebSocketShimJS returns a <script> block that replaces
// window.WebSocket with a wrapper prefixing same-host WebSocket URLs,
// injected into every proxied HTML page (S3's "OrigWebSocket" marker).
func GenerateWebSocketShimJS(agentID ids.AgentId) string {
	prefix := agentPrefix(agentID)
	return fmt.Sprintf(`<script>
(function() {
  var PREFIX = '%s';
  var OrigWebSocket = window.WebSocket;

  window.WebSocket = function(url, protocols) {
    try {
      var parsed = new URL(url, location.origin);
      if (parsed.host === location.host) {
        if (!parsed.pathname.startsWith(PREFIX + '/') && parsed.pathname !== PREFIX) {
          parsed.pathname = PREFIX + parsed.pathname;
        }
        url = parsed.toString();
      }
    } catch(e) {}
    return protocols !== undefined
      ? new OrigWebSocket(url, protocols)
      : new OrigWebSocket(url);
  };

  window.WebSocket.prototype = OrigWebSocket.prototype;
  window.WebSocket.CONNECTING = OrigWebSocket.CONNECTING;
  window.WebSocket.OPEN = OrigWebSocket.OPEN;
  window.WebSocket.CLOSING = OrigWebSocket.CLOSING;
  window.WebSocket.CLOSED = OrigWebSocket.CLOSED;
})();
</script>`, prefix)
}

// RewriteCookiePath scopes a Set-Cookie header's Path attribute under the
// agent's prefix, adding one if absent. Idempotent: a path already under
// the prefix is left untouched (spec §8 P4).
func RewriteCookiePath(setCookieHeader string, agentID ids.AgentId) string {
	prefix := agentPrefix(agentID)

	loc := cookiePathPattern.FindStringSubmatchIndex(setCookieHeader)
	if loc == nil {
		return setCookieHeader + "; Path=" + prefix + "/"
	}

	pathStart, pathEnd := loc[4], loc[5]
	originalPath := strings.TrimSpace(setCookieHeader[pathStart:pathEnd])
	if strings.HasPrefix(originalPath, prefix) {
		return setCookieHeader
	}
	separator := ""
	if !strings.HasPrefix(originalPath, "/") {
		separator = "/"
	}
	newPath := prefix + separator + originalPath
	return setCookieHeader[:pathStart] + newPath + setCookieHeader[pathEnd:]
}

// RewriteAbsolutePathsInHTML prefixes every absolute-path href/src/
// action/formaction attribute with the agent's prefix, leaving relative
// paths, protocol-relative paths ("//host/..."), already-prefixed paths,
// and absolute URLs ("https://...") unchanged (spec §8 P5).
func RewriteAbsolutePathsInHTML(htmlContent string, agentID ids.AgentId) string {
	prefix := agentPrefix(agentID)

	var out strings.Builder
	lastEnd := 0
	for _, m := range absolutePathAttrRe.FindAllStringSubmatchIndex(htmlContent, -1) {
		quoteStart, quoteEnd := m[4], m[5]
		slashStart, slashEnd := m[6], m[7]
		quote := htmlContent[quoteStart:quoteEnd]

		// A protocol-relative URL ("//host/path") has a second '/'
		// immediately after the one this pattern matched; leave it alone.
		if slashEnd < len(htmlContent) && htmlContent[slashEnd] == '/' {
			continue
		}

		remaining := htmlContent[slashStart:]
		endQuoteIdx := strings.Index(remaining[1:], quote)
		fullPath := remaining
		if endQuoteIdx >= 0 {
			fullPath = remaining[:endQuoteIdx+1]
		}
		if strings.HasPrefix(fullPath, prefix+"/") || fullPath == prefix {
			continue
		}

		out.WriteString(htmlContent[lastEnd:slashStart])
		out.WriteString(prefix)
		lastEnd = slashStart
	}
	out.WriteString(htmlContent[lastEnd:])
	return out.String()
}

// injectIntoHead inserts injection immediately after the opening <head>
// tag, tolerating attributes on <head> and a missing <head> entirely
// (spec §8 P6: exactly one <base> tag regardless of <head>'s shape).
func injectIntoHead(htmlContent, injection string) string {
	if idx := strings.Index(htmlContent, "<head>"); idx >= 0 {
		return htmlContent[:idx+len("<head>")] + injection + htmlContent[idx+len("<head>"):]
	}
	if idx := strings.Index(htmlContent, "<head "); idx >= 0 {
		closeIdx := strings.Index(htmlContent[idx:], ">")
		if closeIdx >= 0 {
			end := idx + closeIdx + 1
			return htmlContent[:end] + injection + htmlContent[end:]
		}
	}
	return injection + htmlContent
}

// RewriteProxiedHTML applies every HTML transformation a proxied response
// needs: absolute-path rewriting, a <base> tag scoping relative URL
// resolution to the agent's prefix, and the WebSocket shim (spec §4.7,
// P5/P6, S3).
func RewriteProxiedHTML(htmlContent string, agentID ids.AgentId) string {
	prefix := agentPrefix(agentID)
	rewritten := RewriteAbsolutePathsInHTML(htmlContent, agentID)

	baseTag := fmt.Sprintf(`<base href="%s/">`, prefix)
	injection := baseTag + GenerateWebSocketShimJS(agentID)

	return injectIntoHead(rewritten, injection)
}
