/*
Package content loads lecture content from the course backend.

# Contract

	item, err := loader.Load(ctx, "intro.html", token)

Load performs exactly one authorized GET and never retries. Failures are
classified into *Error values whose Kind is one of unauthorized, forbidden,
not_found, empty_content or transport_error. Each carries a human-readable
Message for display to the learner.

# Payload handling

The raw bytes are kept as markup. Before that the loader:
  - detects the media type (mimetype)
  - transcodes non-UTF-8 payloads using the declared or detected charset
    (chardet, x/net/html/charset)
  - extracts a display title from <title> or the first <h1> (htmlquery)

# External code blocks

ScriptFetcher loads the src of externally-sourced code blocks through the
same client. The learner's bearer token is only sent to the content backend
itself, never to third-party hosts.
*/
package content
