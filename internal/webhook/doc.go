// Package webhook accepts signed HTTP webhooks and republishes them as
// channel broadcasts.
//
// Each configured endpoint maps a path to a topic. A request whose body
// carries a valid HMAC-SHA256 signature is decoded as JSON and broadcast to
// every subscriber of that topic under the endpoint's event name ("webhook"
// unless configured). Signature failures always answer a generic 403.
//
//	webhooks:
//	  listen: "127.0.0.1:4001"
//	  endpoints:
//	    - path: /hooks/github
//	      topic: "room:deploys"
//	      event: push
//	      secret: ${GITHUB_WEBHOOK_SECRET}
//	      signature_header: X-Hub-Signature-256
//	      max_body_size: 1MB
//
// Status codes: 202 on publish, 400 for a non-JSON body, 403 for a missing or
// bad signature, 404 for an unknown path, 413 when the body exceeds
// max_body_size and 500 when the broadcast could not be published.
package webhook
