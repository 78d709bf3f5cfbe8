// Package prompts embeds the agent instruction files and exports them as strings.
package prompts

import _ "embed"

// KubeSage is the troubleshooting agent's instruction.
//
//go:embed kubesage.txt
var KubeSage string
