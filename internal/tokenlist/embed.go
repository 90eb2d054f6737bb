package tokenlist

import "embed"

// tokensFS embeds the bundled contract lists.
//
//go:embed tokens/*.json
var tokensFS embed.FS
