/*
Package process runs an external command and streams its output to a relay.Channel line by line while it runs.

Standard error is merged into standard output so that error text arrives inline with normal progress text.
The merged stream is decoded from the console encoding the wrapped executables emit (IBM code page 866 by default) into UTF-8.

A run proceeds as follows:

1. If the command has a description, a "starting" banner is relayed.
2. A worker goroutine starts the process and reads its output, pushing each line into an unbuffered channel.
3. The calling goroutine relays every non-empty line in the order it was emitted, prefixed with a progress marker.
4. Once the stream is exhausted the worker waits for the process and reports how it ended.
5. Exactly one terminal banner is relayed and the Outcome is returned.

The process is always waited on once started, on every path, so nothing is left running unreaped by the streamer.
There is no timeout and no cancellation: a started process runs to completion.
*/
package process
