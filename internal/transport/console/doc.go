/*
Package console provides an HTTPS + WebSocket operator console for the dispatcher, and a client for it.

The server requires mTLS for both traffic encryption and authz: only clients presenting a certificate signed by the
configured CA can connect, and the certificate's common name is the caller identity checked by the access policy.

There are two messages in this protocol: Request messages are sent client->server, and Message messages are sent
server->client. The protocol proceeds as follows:

1. The client opens a WebSocket connection to /session.
2. The client sends a Request with an ID and either an Operation with its Args, or a confirmation Token.
3. The server relays progress as Messages tagged with the request ID, as they are produced.
4. When the request reaches its terminal state the server sends a Message with Done=true.
5. The client initiates closing of the WebSocket connection.

Several requests may be in flight on one connection; their messages interleave but each request's messages stay in order.
A request keeps running if the connection goes away; its remaining messages are dropped.
*/
package console
