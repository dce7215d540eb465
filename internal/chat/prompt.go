package chat

import (
	_ "embed"
)

// systemPrompt is the fixed instruction block prepended to every model call.
//
//go:embed system_prompt.txt
var systemPrompt string
