package console

// Request is a client->server message invoking one operation.
type Request struct {
	ID        string
	Operation string
	Args      []string
	Token     string
}

// Prompt asks the operator to confirm. Resending the operation with Token set confirms it.
type Prompt struct {
	Text       string
	ButtonText string
	Token      string
}

// Message is a server->client message. Exactly one of Text, Prompt, ClearPrompt or Done is set.
// The Done message carries the state the request finished from and, if a command ran, its outcome.
type Message struct {
	RequestID string

	Text        string  `json:",omitempty"`
	Prompt      *Prompt `json:",omitempty"`
	ClearPrompt bool    `json:",omitempty"`

	Done     bool   `json:",omitempty"`
	State    string `json:",omitempty"`
	Outcome  string `json:",omitempty"`
	ExitCode int    `json:",omitempty"`
}
